package capability

import (
	"crypto/hmac"
	"encoding/hex"
	"strings"
)

// Tokens are the wire form of capabilities: "<kind>.<subject>.<hex mac>".
// Subjects never contain '.', job IDs are UUIDs and system IDs are hex.

// EncodeJob renders c for transport.
func (a *Authority) EncodeJob(c *JobCapability) string {
	if c == nil {
		return ""
	}
	return string(KindJob) + "." + c.jobID + "." + hex.EncodeToString(c.mac)
}

// EncodeAdmin renders c for transport.
func (a *Authority) EncodeAdmin(c *AdminCapability) string {
	if c == nil {
		return ""
	}
	return string(KindAdmin) + "." + c.systemID + "." + hex.EncodeToString(c.mac)
}

// DecodeJob parses and authenticates a job capability token.
func (a *Authority) DecodeJob(token string) (*JobCapability, error) {
	subject, mac, err := a.parse(KindJob, token)
	if err != nil {
		return nil, err
	}
	return &JobCapability{jobID: subject, systemID: a.systemID, mac: mac}, nil
}

// DecodeAdmin parses and authenticates an admin capability token.
func (a *Authority) DecodeAdmin(token string) (*AdminCapability, error) {
	subject, mac, err := a.parse(KindAdmin, token)
	if err != nil {
		return nil, err
	}
	if subject != a.systemID {
		return nil, ErrInvalid
	}
	return &AdminCapability{systemID: subject, mac: mac}, nil
}

func (a *Authority) parse(kind Kind, token string) (string, []byte, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 || parts[0] != string(kind) || parts[1] == "" {
		return "", nil, ErrInvalid
	}
	mac, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", nil, ErrInvalid
	}
	want, err := a.keys.MAC(kind, parts[1])
	if err != nil {
		return "", nil, err
	}
	if !hmac.Equal(want, mac) {
		return "", nil, ErrInvalid
	}
	return parts[1], mac, nil
}
