// Package auth resolves the Gemini API key.
package auth

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
)

// GetAPIKey retrieves the Gemini API key. Priority order:
//  1. GEMINI_API_KEY environment variable
//  2. the configured value (typically an ${ENV} reference resolved at
//     config load)
func GetAPIKey(configured string) (string, error) {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		log.Debug().Msg("Using API key from environment variable")
		return key, nil
	}
	if configured != "" {
		log.Debug().Msg("Using API key from config file")
		return configured, nil
	}
	return "", fmt.Errorf("Gemini API key not found: set GEMINI_API_KEY or gemini.api_key in the config file")
}
