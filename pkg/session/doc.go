// Package session manages the cryptographic session of a bunq API client.
//
// A Session owns the client RSA keypair and the three handshake results
// (installation, device registration and API session), and persists them
// encrypted under a caller supplied key through a storage.Store.
//
// Typical use:
//
//	s := session.New(store, session.WithLogger(logger))
//	ok, err := s.Setup(ctx, session.SetupParams{
//		APIKey:        apiKey,
//		Environment:   "SANDBOX",
//		EncryptionKey: key,
//	})
//	...
//	err = s.Handshake(ctx, transport, "my device")
//
// Stored blobs live at BUNQJSCLIENT_{ENV}_SESSION_{id} with the IV at
// BUNQJSCLIENT_{ENV}_IV_{id}, where id is derived from the API key with
// PBKDF2.
package session
