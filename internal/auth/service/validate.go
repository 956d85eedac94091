package service

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

const (
	minPasswordLength = 8
	maxPasswordLength = 128
	maxNameLength     = 64
	otpDigits         = 6
)

func validEmail(email string) bool {
	return len(email) <= 254 && emailRegex.MatchString(email)
}

// checkPassword enforces length plus one of each: lower, upper, digit, symbol.
func checkPassword(pw string) error {
	n := utf8.RuneCountInString(pw)
	if n < minPasswordLength {
		return invalid("Password must be at least 8 characters")
	}
	if n > maxPasswordLength {
		return invalid("Password is too long")
	}

	var lower, upper, digit, symbol bool
	for _, r := range pw {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	if !lower || !upper || !digit || !symbol {
		return invalid("Password must contain upper and lower case letters, a number and a symbol")
	}
	return nil
}

const msgRegisterRequired = "userName, email and password are required"

func checkUserName(name string) error {
	switch {
	case name == "":
		return invalid(msgRegisterRequired)
	case utf8.RuneCountInString(name) > maxNameLength:
		return invalid("userName is too long")
	case strings.ContainsFunc(name, unicode.IsSpace):
		return invalid("userName must not contain spaces")
	}
	return nil
}

func validCode(code string) bool {
	if len(code) != otpDigits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
