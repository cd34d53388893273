// Package config loads and watches the agent configuration file (config.yaml).
//
// Top-level types:
//   - Config{Agent}: full config tree parsed from YAML
//   - AgentConfig: server_endpoint, interval, ship_interval, buffer_size,
//     server_auth, connectwise, projects, project_conditions, concurrency,
//     insight, metrics, bundle_dir, log_level
//   - ConnectWiseConfig: base_url, company, *_env credential names,
//     timeout, max_attempts, rate_limit, pool
//   - AuthConfig: mode (mtls|apikey|none), cert/key/ca files, header,
//     key_env; Key() resolves from the environment
//
// Secrets never live in the file: every credential field names an
// environment variable that is read at use time.
//
// Load(path) reads the YAML file, applies defaults (1h interval, 15s ship,
// 1000 buffer, 40 requests per minute), then validates required fields and
// enums.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. It handles the rename→create pattern
// used by atomic-save editors (vim, VS Code) by re-adding the watch after
// a rename event.
package config
