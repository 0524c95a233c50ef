package client

import (
	"bytes"
	"crypto/ecdsa"
	"fmt"

	"github.com/linsihaku/corda/src/net"
	"github.com/linsihaku/corda/src/netmap"
	"github.com/sirupsen/logrus"
)

// ParameterNegotiator enforces agreement on network parameters before any
// directory data is trusted. Parameters are fetched once, verified against
// the network operator's key, checked against the locally required minimum
// platform version, and pinned; every later contact with a map service only
// compares hashes.
type ParameterNegotiator struct {
	trusted  *ecdsa.PublicKey
	localMin int

	nm     netmap.NetworkMap
	logger *logrus.Entry
}

// NewParameterNegotiator creates a negotiator. trusted is the network
// operator's public key; localMin is the minimum platform version this node
// requires network-wide.
func NewParameterNegotiator(
	trusted *ecdsa.PublicKey,
	localMin int,
	nm netmap.NetworkMap,
	logger *logrus.Entry,
) *ParameterNegotiator {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &ParameterNegotiator{
		trusted:  trusted,
		localMin: localMin,
		nm:       nm,
		logger:   logger,
	}
}

// Negotiate reconciles the parameters hash observed in a fetch response with
// the local pin. If parameters are already pinned, any differing hash is
// ErrParametersMismatch. Otherwise the full signed parameters are requested
// from the remote, verified, version-checked, and pinned.
func (p *ParameterNegotiator) Negotiate(trans net.Transport, remote string, observedHash []byte) error {
	if pinned := p.nm.Parameters(); pinned != nil {
		if !bytes.Equal(pinned.Hash(), observedHash) {
			return netmap.ErrParametersMismatch
		}
		return nil
	}

	req := net.ParametersRequest{From: trans.AdvertiseAddr()}

	var resp net.ParametersResponse
	if err := trans.Parameters(remote, &req, &resp); err != nil {
		return err
	}

	if resp.SignedParameters == nil {
		return fmt.Errorf("map service returned no parameters")
	}

	params, err := resp.SignedParameters.Verify(p.trusted)
	if err != nil {
		return err
	}

	if p.localMin > params.MinimumPlatformVersion {
		return netmap.MinPlatformVersionError{
			Local:   p.localMin,
			Network: params.MinimumPlatformVersion,
		}
	}

	if observedHash != nil && !bytes.Equal(resp.SignedParameters.Hash(), observedHash) {
		return netmap.ErrParametersMismatch
	}

	p.logger.WithFields(logrus.Fields{
		"hash":                     resp.SignedParameters.Hex(),
		"minimum_platform_version": params.MinimumPlatformVersion,
	}).Debug("Verified network parameters")

	return p.nm.PinParameters(resp.SignedParameters)
}
