package session

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"go_adb_bridge/constants"
	"go_adb_bridge/protocol"
	"go_adb_bridge/signer"
	"go_adb_bridge/transport"
)

// Options configures the connection handshake.
type Options struct {
	// Identity is placed in the serial slot of the host banner.
	Identity string
	// Features advertised to the device. Only features present in both
	// banners become active on the session.
	Features []string
	// Signers tried in order against AUTH challenges. Each signer signs at
	// most one token per handshake; a re-issued token advances to the next.
	Signers []signer.Signer
	// MaxPayload offered in CNXN; the negotiated value is the minimum of
	// both offers. Defaults to constants.MAX_PAYLOAD.
	MaxPayload uint32
	// Timeout bounds each protocol round-trip.
	Timeout time.Duration
	// AuthTimeout bounds the wait for on-device approval after the public
	// key fallback is sent. Keep it short in automation, long when a human
	// can tap the dialog.
	AuthTimeout time.Duration
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.MaxPayload == 0 {
		opts.MaxPayload = constants.MAX_PAYLOAD
	}
	if opts.Timeout == 0 {
		opts.Timeout = constants.DEFAULT_TIMEOUT
	}
	if opts.AuthTimeout == 0 {
		opts.AuthTimeout = constants.AUTH_TIMEOUT
	}
	return opts
}

// Connect drives the CNXN/AUTH handshake over the transport and returns an
// authenticated session with its dispatcher running. On any failure the
// transport is closed.
func Connect(tr transport.Transport, o Options) (*Session, error) {
	opts := o.withDefaults()
	tr.SetTimeout(opts.Timeout)

	s := &Session{
		tr:         tr,
		maxPayload: opts.MaxPayload,
		streams:    map[uint32]*Stream{},
		timeout:    opts.Timeout,
		done:       make(chan struct{}),
	}

	local := Banner{System: "host", Serial: opts.Identity, Features: opts.Features}
	if err := s.send(protocol.NewMessage(
		protocol.CNXN, constants.PROTOCOL_VERSION, opts.MaxPayload, FormatBanner(local))); err != nil {
		tr.Close()
		return nil, err
	}

	msg, err := s.readMessage()
	if err != nil {
		tr.Close()
		return nil, err
	}

	if msg.Command == protocol.AUTH {
		msg, err = s.authenticate(msg, opts)
		if err != nil {
			tr.Close()
			return nil, err
		}
	}

	if msg.Command != protocol.CNXN {
		tr.Close()
		return nil, &protocol.Error{
			Reason: protocol.UnexpectedCommand,
			Detail: protocol.CommandString(msg.Command) + " while waiting for CNXN",
		}
	}

	if err := s.finish(msg, local); err != nil {
		tr.Close()
		return nil, err
	}

	go s.dispatch()
	return s, nil
}

// authenticate walks the signer list against AUTH(TOKEN) challenges, falling
// back to offering a public key for interactive approval. Returns the CNXN
// message that concludes a successful handshake.
func (s *Session) authenticate(msg *protocol.Message, opts Options) (*protocol.Message, error) {
	for _, sg := range opts.Signers {
		if msg.Arg0 != protocol.AuthToken {
			return nil, &protocol.Error{
				Reason: protocol.UnexpectedCommand,
				Detail: fmt.Sprintf("AUTH type %d while expecting a token", msg.Arg0),
			}
		}

		signature, err := sg.Sign(msg.Payload)
		if err != nil {
			log.WithError(err).Warn("signer failed, advancing to next key")
			continue
		}
		if err := s.send(protocol.NewMessage(protocol.AUTH, protocol.AuthSignature, 0, signature)); err != nil {
			return nil, err
		}

		msg, err = s.readMessage()
		if err != nil {
			return nil, err
		}
		if msg.Command == protocol.CNXN {
			return msg, nil
		}
		if msg.Command != protocol.AUTH {
			return nil, &protocol.Error{
				Reason: protocol.UnexpectedCommand,
				Detail: protocol.CommandString(msg.Command) + " in response to a signature",
			}
		}
		// Token re-issued: signature rejected, next signer.
	}

	var pub []byte
	for _, sg := range opts.Signers {
		if p := sg.PublicKey(); len(p) > 0 {
			pub = p
			break
		}
	}
	if len(pub) == 0 {
		return nil, &AuthError{Hint: "no accepted key and no public key to offer"}
	}

	// Offer the key once and wait for the user to approve it on-device.
	if err := s.send(protocol.NewMessage(
		protocol.AUTH, protocol.AuthRSAPublicKey, 0, append(pub, 0))); err != nil {
		return nil, err
	}

	s.tr.SetTimeout(opts.AuthTimeout)
	msg, err := s.readMessage()
	s.tr.SetTimeout(opts.Timeout)
	if err != nil {
		return nil, &AuthError{Hint: "authorize this host on the device, then retry"}
	}
	if msg.Command != protocol.CNXN {
		return nil, &protocol.Error{
			Reason: protocol.UnexpectedCommand,
			Detail: protocol.CommandString(msg.Command) + " in response to a public key",
		}
	}
	return msg, nil
}

// finish applies the device CNXN: version check, payload negotiation and
// feature intersection.
func (s *Session) finish(msg *protocol.Message, local Banner) error {
	if msg.Arg0 != constants.PROTOCOL_VERSION {
		return fmt.Errorf("unsupported device protocol version 0x%08x", msg.Arg0)
	}
	s.version = msg.Arg0

	theirs := msg.Arg1
	if theirs == 0 {
		theirs = constants.LEGACY_MAX_PAYLOAD
	}
	if theirs < s.maxPayload {
		s.maxPayload = theirs
	}

	s.device = ParseBanner(msg.Payload)
	s.features = map[string]bool{}
	for _, f := range local.Features {
		if s.device.HasFeature(f) {
			s.features[f] = true
		}
	}

	log.WithFields(log.Fields{
		"system":     s.device.System,
		"serial":     s.device.Serial,
		"maxPayload": s.maxPayload,
	}).Debug("handshake complete")

	return nil
}
