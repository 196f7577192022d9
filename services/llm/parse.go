// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var jsonFencePattern = regexp.MustCompile("(?s)```json(.*?)```")

// ParseJSONOutput extracts a JSON object from a model response. The
// response may wrap the object in a ```json fence or return bare JSON.
func ParseJSONOutput(raw string) (map[string]any, error) {
	payload := raw
	if groups := jsonFencePattern.FindStringSubmatch(raw); groups != nil {
		payload = strings.TrimSpace(groups[1])
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, fmt.Errorf("model response is not a json object: %w", err)
	}
	return parsed, nil
}
