package session

import "context"

// Teardown happens at increasing granularity:
//
//	DestroyAPISession             session
//	DestroyAPIDeviceInstallation  device, session
//	DestroyAPIInstallation        keypair, installation, device, session
//	DestroySession                everything, including the stored blob
//
// Dropping a link always drops the links that depend on it.

// DestroySession clears the API key, every handshake step and the
// keypair, then removes the stored blob. It is safe to call when nothing
// was ever stored.
func (s *Session) DestroySession(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroySessionLocked(ctx)
}

func (s *Session) destroySessionLocked(ctx context.Context) error {
	s.logger.Debug("destroying session", "location", s.location.Session)
	s.metrics.ObserveDestroy("full")

	s.apiKey = ""
	s.keys = nil
	s.chain.dropInstallation()

	if err := s.storageRemove(ctx, s.location.Session, false); err != nil {
		return err
	}
	return s.storageRemove(ctx, s.location.IV, false)
}

// DestroyInstallationMemory clears the keypair and every handshake step
// from memory. Stored data and the API key are kept.
func (s *Session) DestroyInstallationMemory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyInstallationMemoryLocked()
}

func (s *Session) destroyInstallationMemoryLocked() {
	s.logger.Debug("destroying installation memory")
	s.metrics.ObserveDestroy("memory")
	s.keys = nil
	s.chain.dropInstallation()
}

// DestroyAPISession drops the API session and its user info. With save
// set the narrowed state is persisted immediately.
func (s *Session) DestroyAPISession(ctx context.Context, save bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyAPISessionLocked(ctx, save)
}

func (s *Session) destroyAPISessionLocked(ctx context.Context, save bool) error {
	s.logger.Debug("destroying api session", "save", save)
	s.metrics.ObserveDestroy("session")
	s.chain.dropSession()
	return s.saveIf(ctx, save)
}

// DestroyAPIInstallation drops the keypair and the installation, and with
// them the device and session.
func (s *Session) DestroyAPIInstallation(ctx context.Context, save bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Debug("destroying api installation", "save", save)
	s.metrics.ObserveDestroy("installation")
	s.keys = nil
	s.chain.dropInstallation()
	return s.saveIf(ctx, save)
}

// DestroyAPIDeviceInstallation drops the device registration and the
// session built on it.
func (s *Session) DestroyAPIDeviceInstallation(ctx context.Context, save bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Debug("destroying device installation", "save", save)
	s.metrics.ObserveDestroy("device")
	s.chain.dropDevice()
	return s.saveIf(ctx, save)
}

func (s *Session) saveIf(ctx context.Context, save bool) error {
	if !save {
		return nil
	}
	_, err := s.storeSessionLocked(ctx)
	return err
}
