// Package conferencing provisions video rooms for meetings.
package conferencing

import (
	"context"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Provisioner attaches a video-conferencing link to a meeting.
type Provisioner interface {
	AttachLink(ctx context.Context, meetingID string) (string, error)
}

// DerivedProvisioner derives a stable room slug from the meeting id with HKDF,
// so redelivering the same request yields the same link.
type DerivedProvisioner struct {
	baseURL *url.URL
	secret  []byte
}

// NewDerivedProvisioner validates the base URL and secret.
func NewDerivedProvisioner(baseURL, secret string) (*DerivedProvisioner, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("conferencing: secret is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("conferencing: invalid base url %q", baseURL)
	}
	return &DerivedProvisioner{baseURL: parsed, secret: []byte(secret)}, nil
}

// AttachLink returns the room link for meetingID.
func (p *DerivedProvisioner) AttachLink(ctx context.Context, meetingID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if meetingID == "" {
		return "", errors.New("conferencing: meeting id is required")
	}

	reader := hkdf.New(sha256.New, p.secret, []byte(meetingID), []byte("coaching-scheduler video room"))
	slug := make([]byte, 15)
	if _, err := io.ReadFull(reader, slug); err != nil {
		return "", fmt.Errorf("conferencing: derive room: %w", err)
	}

	room := strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(slug))
	return p.baseURL.JoinPath(room).String(), nil
}
