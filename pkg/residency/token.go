/*
 * Copyright 2025 The vrrctl Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package residency

import (
	"strconv"
	"strings"

	"github.com/displaykit/vrrctl/pkg/display"
	"github.com/displaykit/vrrctl/pkg/logger"
)

// Residency patterns are a mini-language of (token label, delimiter)
// pairs: "[mode](:)[width](x)" emits the mode token, a colon, the
// width token and an "x". Present and non-present refreshes render
// through different patterns so their buckets stay distinguishable.
const (
	PresentResidencyPattern    = "[mode](:)[width](x)[height](@)[fps]()"
	NonPresentResidencyPattern = "[refreshSource](-)[mode](:)[width](x)[height]()"
)

const (
	tokenLabelStart = '['
	tokenLabelEnd   = ']'
	delimiterStart  = '('
	delimiterEnd    = ')'
)

type patternEntry struct {
	Label     string
	Delimiter string
}

// parseResidencyPattern splits a pattern string into its ordered
// (label, delimiter) pairs. The pattern is well formed only when the
// final delimiter's closing parenthesis ends the string.
func parseResidencyPattern(pattern string) ([]patternEntry, bool) {
	var entries []patternEntry

	end := -1

	for {
		start := indexFrom(pattern, tokenLabelStart, end+1)
		if start < 0 {
			break
		}

		start++

		end = indexFrom(pattern, tokenLabelEnd, start)
		if end < 0 {
			break
		}

		label := pattern[start:end]

		start = indexFrom(pattern, delimiterStart, end+1)
		if start < 0 {
			break
		}

		start++

		end = indexFrom(pattern, delimiterEnd, start)
		if end < 0 {
			break
		}

		entries = append(entries, patternEntry{Label: label, Delimiter: pattern[start:end]})
	}

	return entries, end == len(pattern)-1
}

func indexFrom(s string, c byte, from int) int {
	if from < 0 || from >= len(s) {
		return -1
	}

	i := strings.IndexByte(s[from:], c)
	if i < 0 {
		return -1
	}

	return from + i
}

// generateToken renders one token label for a profile. The off bucket
// renders every token except mode as empty, so "OFF" stands alone.
func generateToken(label string, p PowerStatsProfile) (string, bool) {
	switch label {
	case "refreshSource":
		if p.IsOff() {
			return "", true
		}

		if p.Source.IsPresent() {
			return "p", true
		}

		return "np", true
	case "mode":
		if p.IsOff() {
			return "OFF", true
		}

		if p.PowerMode == display.PowerModeDoze {
			return "LPM", true
		}

		if p.BrightnessMode == display.BrightnessModeHigh {
			return "HBM", true
		}

		return "NBM", true
	case "width":
		if p.IsOff() {
			return "", true
		}

		return strconv.Itoa(p.Width), true
	case "height":
		if p.IsOff() {
			return "", true
		}

		return strconv.Itoa(p.Height), true
	case "fps":
		if p.IsOff() {
			return "", true
		}

		if p.Fps == 0 {
			return "oth", true
		}

		return strconv.Itoa(p.Fps), true
	default:
		return "", false
	}
}

// generateStateName walks the pattern and concatenates tokens with
// their delimiters. An "OFF" mode token terminates the name so the off
// bucket is the bare string "OFF".
func generateStateName(entries []patternEntry, p PowerStatsProfile, log logger.Logger) string {
	var name strings.Builder

	for _, entry := range entries {
		token, ok := generateToken(entry.Label, p)
		if !ok {
			log.Error().Str("label", entry.Label).Msg("residency pattern references an unknown token label")
			continue
		}

		name.WriteString(token)

		if entry.Label == "mode" && token == "OFF" {
			break
		}

		name.WriteString(entry.Delimiter)
	}

	return name.String()
}

// stateNameLess orders bucket names for ID assignment. Names sharing a
// literal prefix up to a trailing "@rate" compare numerically on the
// rate, so "NBM:1080x2400@24" sorts before "NBM:1080x2400@120".
func stateNameLess(a, b string) bool {
	prefixA, rateA, okA := splitTrailingRate(a)
	prefixB, rateB, okB := splitTrailingRate(b)

	if okA && okB && prefixA == prefixB {
		return rateA < rateB
	}

	return a < b
}

func splitTrailingRate(name string) (prefix string, rate int, ok bool) {
	i := strings.LastIndexByte(name, '@')
	if i < 0 {
		return "", 0, false
	}

	n, err := strconv.Atoi(name[i+1:])
	if err != nil {
		return "", 0, false
	}

	return name[:i+1], n, true
}
