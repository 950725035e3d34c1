// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncengine

import (
	"strings"
)

// Field length limits from the worksheet format.
const (
	maxCompanyCodeLen    = 8
	maxBaseCodeLen       = 8
	maxWorkerCodeLen     = 8
	worksheetNoLen       = 10
	dateLen              = 8
	maxModelLen          = 20
	maxSerialNumberLen   = 12
	maxItemNameLen       = 16
	maxNGCommentLen      = 50
	maxClientNameLen     = 50
	maxInspectionNameLen = 15
)

// forbiddenPunct is the single-byte punctuation blacklist for guideline
// fields (model, serial number, item name, NG comment).
const forbiddenPunct = "&$@=;/:+ ,?\\{^}%`]\"'><[~#|"

// trimSpaces removes leading/trailing half-width and ideographic spaces.
func trimSpaces(s string) string {
	return strings.Trim(s, " 　")
}

func digitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func alphanumericOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}

// isHalfWidthKana covers the half-width katakana block, which guideline
// fields and full-width-only fields both reject.
func isHalfWidthKana(r rune) bool {
	return r >= 0xFF61 && r <= 0xFF9F
}

// isGaiji covers the private-use plane where the Shift-JIS vendor range
// 0xF040..0xF9FC lands after conversion.
func isGaiji(r rune) bool {
	return r >= 0xE000 && r <= 0xE757
}

// fullWidthOnly reports whether every rune is a displayable full-width
// character.
func fullWidthOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r <= 0x7F || isHalfWidthKana(r) || isGaiji(r) {
			return false
		}
	}
	return true
}

// checkGuidelineChars rejects control characters, blacklisted punctuation,
// half-width kana and gaiji.
func checkGuidelineChars(field, s string) error {
	for _, r := range s {
		switch {
		case r < 0x20 || r == 0x7F:
			return validationErr(field, "contains control characters")
		case r < 0x80 && strings.ContainsRune(forbiddenPunct, r):
			return validationErr(field, "contains forbidden characters")
		case isHalfWidthKana(r):
			return validationErr(field, "contains half-width kana")
		case isGaiji(r):
			return validationErr(field, "contains unsupported characters")
		}
	}
	return nil
}

func validateItemName(name string) error {
	name = trimSpaces(name)
	if name == "" {
		return validationErr("itemName", "must not be blank")
	}
	if len([]rune(name)) > maxItemNameLen {
		return validationErr("itemName", "too long")
	}
	return checkGuidelineChars("itemName", name)
}

func validateModel(model string) error {
	model = trimSpaces(model)
	if model == "" {
		return validationErr("model", "must not be blank")
	}
	if len([]rune(model)) > maxModelLen {
		return validationErr("model", "too long")
	}
	if strings.HasPrefix(model, "-") {
		return validationErr("model", "must not start with a hyphen")
	}
	return checkGuidelineChars("model", model)
}

func validateSerialNumber(serial string) error {
	serial = trimSpaces(serial)
	if serial == "" {
		return validationErr("serialNumber", "must not be blank")
	}
	if len([]rune(serial)) > maxSerialNumberLen {
		return validationErr("serialNumber", "too long")
	}
	return checkGuidelineChars("serialNumber", serial)
}

func validateNGComment(comment string) error {
	comment = trimSpaces(comment)
	if comment == "" {
		return validationErr("ngComment", "must not be blank")
	}
	if len([]rune(comment)) > maxNGCommentLen {
		return validationErr("ngComment", "too long")
	}
	return checkGuidelineChars("ngComment", comment)
}
