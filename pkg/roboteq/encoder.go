// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package roboteq

import (
	"strconv"
	"strings"
)

// EncodeCommand joins a prefixed command name and its integer arguments
// with single spaces and appends the carriage return terminator.
//
//	EncodeCommand(PrefixAction, "G", 1, 500) == "!G 1 500\r"
func EncodeCommand(prefix byte, name string, args ...int) string {
	var b strings.Builder
	b.Grow(len(name) + 2 + len(args)*7)
	b.WriteByte(prefix)
	b.WriteString(name)
	for _, a := range args {
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(a))
	}
	b.WriteByte(Delimiter)
	return b.String()
}

// Terminate appends the carriage return terminator to a raw command if it
// does not already end with one.
func Terminate(cmd string) string {
	if strings.HasSuffix(cmd, string(rune(Delimiter))) {
		return cmd
	}
	return cmd + string(rune(Delimiter))
}

// checkRange validates an integer command parameter.
func checkRange(command, name string, value, min, max int) error {
	if value < min || value > max {
		return &InvalidParameterError{
			Command: command,
			Name:    name,
			Value:   value,
			Min:     min,
			Max:     max,
		}
	}
	return nil
}
