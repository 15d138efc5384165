package device

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nerrad567/iotgateway-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/iotgateway-core/internal/topic"
)

// maxAliasLength bounds display aliases.
const maxAliasLength = 100

// commands is the set of commands the firmware accepts on iot/cmd.
var commands = map[string]struct{}{
	mqtt.CmdStatus:    {},
	mqtt.CmdGetConfig: {},
	mqtt.CmdReboot:    {},
}

// ValidateIdentity checks a composite key before it is stored or used to
// build a topic.
func ValidateIdentity(deviceID, location string) error {
	if err := topic.ValidateDeviceID(deviceID); err != nil {
		return err
	}
	return topic.ValidateLocation(location)
}

// NormaliseCommand upper-cases cmd and checks it is one the firmware accepts.
func NormaliseCommand(cmd string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(cmd))
	if _, ok := commands[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidCommand, cmd)
	}
	return c, nil
}

// ValidateAlias checks a display alias. Empty clears the alias.
func ValidateAlias(alias string) error {
	if utf8.RuneCountInString(alias) > maxAliasLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidAlias, maxAliasLength)
	}
	if strings.ContainsAny(alias, "\x00\n\r") {
		return fmt.Errorf("%w: contains control characters", ErrInvalidAlias)
	}
	return nil
}
