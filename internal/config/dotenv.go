// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/XueChenNyaCl/deepchat/internal/util"
)

// APIKeyEnv is the variable holding the API key, in the process environment
// or in the .env file.
const APIKeyEnv = "DEEPSEEK_API_KEY"

// MinAPIKeyLength is the shortest key accepted by /update api.
const MinAPIKeyLength = 20

// ValidateAPIKey checks the length of a key after trimming.
func ValidateAPIKey(key string) error {
	key = strings.TrimSpace(key)
	if len(key) < MinAPIKeyLength {
		return &ValidationError{
			Field:  "api_key",
			Reason: fmt.Sprintf("must be at least %d characters", MinAPIKeyLength),
		}
	}
	return nil
}

// bareHost matches a scheme-less endpoint such as api.example.com/v1/chat.
var bareHost = regexp.MustCompile(`^([\da-z.-]+)\.([a-z.]{2,6})([/\w .-]*)*/?$`)

// ValidateEndpoint checks an API endpoint and returns its normalized form.
// A bare host path gets an https:// scheme.
func ValidateEndpoint(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", invalid(KeyAPIEndpoint, raw, "must not be empty")
	}
	if !strings.Contains(s, "://") {
		if !bareHost.MatchString(s) {
			return "", invalid(KeyAPIEndpoint, raw, "not a valid URL")
		}
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", invalid(KeyAPIEndpoint, raw, "not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", invalid(KeyAPIEndpoint, raw, "scheme must be http or https")
	}
	if u.Hostname() == "" {
		return "", invalid(KeyAPIEndpoint, raw, "missing host")
	}
	return s, nil
}

// LoadAPIKey returns the API key. The process environment wins over the .env
// file. A missing file yields an empty key and no error.
func LoadAPIKey(envPath string) (string, error) {
	if key := strings.TrimSpace(os.Getenv(APIKeyEnv)); key != "" {
		return key, nil
	}
	data, err := os.ReadFile(envPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", envPath, err)
	}
	return parseEnv(data)[APIKeyEnv], nil
}

// SaveAPIKey writes the key into the .env file, keeping any other lines.
func SaveAPIKey(envPath, key string) error {
	key = strings.TrimSpace(key)
	if err := ValidateAPIKey(key); err != nil {
		return err
	}

	existing, err := os.ReadFile(envPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read %s: %w", envPath, err)
	}

	var out bytes.Buffer
	written := false
	sc := bufio.NewScanner(bytes.NewReader(existing))
	for sc.Scan() {
		line := sc.Text()
		if name, _, ok := splitEnvLine(line); ok && name == APIKeyEnv {
			if !written {
				fmt.Fprintf(&out, "%s=%s\n", APIKeyEnv, key)
				written = true
			}
			continue
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if !written {
		fmt.Fprintf(&out, "%s=%s\n", APIKeyEnv, key)
	}

	if err := util.AtomicWriteFile(envPath, out.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", envPath, err)
	}
	return nil
}

func parseEnv(data []byte) map[string]string {
	vars := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if name, value, ok := splitEnvLine(sc.Text()); ok {
			vars[name] = value
		}
	}
	return vars
}

// splitEnvLine parses NAME=value, with an optional export prefix and quotes.
func splitEnvLine(line string) (name, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")
	name, value, ok = strings.Cut(line, "=")
	if !ok {
		return "", "", false
	}
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)
	if len(value) >= 2 {
		if q := value[0]; (q == '"' || q == '\'') && value[len(value)-1] == q {
			value = value[1 : len(value)-1]
		}
	}
	return name, value, name != ""
}
