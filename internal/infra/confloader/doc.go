// Package confloader loads layered configuration with koanf.
//
// Sources, lowest priority first:
//
//  1. Maps (defaults, tests)
//  2. A YAML file
//  3. Environment variables
//
// Environment variables carry the prefix (BUNQSESSION_ by default) and
// use a double underscore for nesting, so BUNQSESSION_STORAGE__BACKEND
// sets storage.backend while BUNQSESSION_API_KEY sets api_key.
//
// Watcher reports writes to a configuration file through fsnotify.
package confloader
