// Package config handles configuration loading for coven-aichat.
//
// # Configuration File
//
// Location (in order):
//
//  1. The --config flag
//  2. Path from COVEN_AICHAT_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/coven/aichat.yaml (~/.config when unset)
//
// Files ending in .toml are decoded as TOML; anything else is YAML.
//
// # Environment Variable Expansion
//
// Values can reference environment variables:
//
//	aichat:
//	  gemini_api_key: "${GEMINI_API_KEY}"
//
// # Configuration Sections
//
//	misskey:
//	  host: "https://misskey.example"
//	  token: "${MISSKEY_TOKEN}"
//	  reaction: "👍"
//
//	database:
//	  path: "./data/aichat.db"
//
//	aichat:
//	  keyword: "aichat"
//	  prompt: "You are a friendly bot on a Misskey server."
//	  timezone: "Asia/Tokyo"
//	  reply_timeout: "30m"
//	  always_ground_mentions: false
//	  gemini_api_key: "${GEMINI_API_KEY}"
//	  openai_api_key: "${OPENAI_API_KEY}"
//	  plamo_api_key: "${PLAMO_API_KEY}"
//
//	random_talk:
//	  enabled: true
//	  probability: 0.02
//	  interval_minutes: 720
//	  min_love: 7
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() requires misskey.host (an http or https URL) and misskey.token,
// a loadable timezone and a known logging format. Provider keys are
// optional; a conversation that selects a provider without a key gets an
// "unavailable" reply instead.
package config
