package lsp

import (
	"path/filepath"
	"strings"
	"time"
)

// ServerConfig describes how to launch one downstream language server.
type ServerConfig struct {
	Language       Language      `json:"language"`
	Command        string        `json:"command"`
	Args           []string      `json:"args,omitempty"`
	Extensions     []string      `json:"extensions"`
	Enabled        bool          `json:"enabled"`
	InitTimeout    time.Duration `json:"init_timeout"`
	RequestTimeout time.Duration `json:"request_timeout"`
	MaxRestarts    int           `json:"max_restarts"`
}

type ManagerConfig struct {
	Servers map[Language]ServerConfig `json:"servers"`
}

func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Servers: map[Language]ServerConfig{
			LangTypeScript: {
				Language:       LangTypeScript,
				Command:        "typescript-language-server",
				Args:           []string{"--stdio"},
				Extensions:     []string{".ts", ".tsx", ".mts", ".cts"},
				Enabled:        true,
				InitTimeout:    15 * time.Second,
				RequestTimeout: 5 * time.Second,
				MaxRestarts:    3,
			},
			LangJavaScript: {
				Language:       LangJavaScript,
				Command:        "typescript-language-server",
				Args:           []string{"--stdio"},
				Extensions:     []string{".js", ".jsx", ".mjs", ".cjs"},
				Enabled:        true,
				InitTimeout:    15 * time.Second,
				RequestTimeout: 5 * time.Second,
				MaxRestarts:    3,
			},
		},
	}
}

// LanguageFor maps a document path or URI to the language of the first
// enabled server claiming its extension.
func (c *ManagerConfig) LanguageFor(path string) (Language, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	for lang, server := range c.Servers {
		if !server.Enabled {
			continue
		}
		for _, e := range server.Extensions {
			if e == ext {
				return lang, true
			}
		}
	}
	return "", false
}

// LanguageID is the textDocument languageId the downstream server expects.
func LanguageID(lang Language, path string) string {
	react := strings.HasSuffix(strings.ToLower(path), "x")
	switch {
	case lang == LangTypeScript && react:
		return "typescriptreact"
	case lang == LangJavaScript && react:
		return "javascriptreact"
	}
	return string(lang)
}

func (c *ManagerConfig) EnabledLanguages() []Language {
	var langs []Language
	for lang, server := range c.Servers {
		if server.Enabled {
			langs = append(langs, lang)
		}
	}
	return langs
}
