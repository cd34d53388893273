// Package insight is the client side of the external insight service: it
// hands a rendered project prompt to a language model and returns a
// validated Document (health score, risk level, risks, recommendations).
//
// Implementations of Service:
//   - GeminiService calls Gemini through google.golang.org/genai in JSON
//     response mode
//   - Cached wraps any Service with the dated file cache
//     analysis_<project>_<YYYYMMDD>.json (Get, Latest, Clear)
//   - Disabled always returns ErrDisabled
package insight
