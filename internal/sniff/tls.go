package sniff

import (
	"golang.org/x/crypto/cryptobyte"
)

const (
	recordTypeHandshake = 0x16

	handshakeTypeClientHello = 0x01

	extensionServerName = 0x0000
	sniNameTypeHostName = 0x00

	tlsRecordHeaderLen = 5
)

// tlsAbortMessage is a fatal TLS alert (level=fatal, description=
// unrecognized_name) pushed toward the client when SNI routing fails. A
// real handshake never reaches this point, but sending a well-formed alert
// record lets strict clients report a clean error instead of a reset.
var tlsAbortMessage = []byte{0x15, 0x03, 0x01, 0x00, 0x02, 0x02, 0x70}

// TLS sniffs the SNI server_name extension out of a TLS ClientHello,
// without driving a real handshake: a cryptobyte cursor walks the
// record/handshake/extension TLV structure directly, which is what lets
// this sniffer report NeedMore on a genuinely truncated ClientHello and
// resume parsing once more bytes arrive, something a tls.Server handshake
// cannot do once started.
type TLS struct{}

var _ Sniffer = TLS{}

// Name implements Sniffer.
func (TLS) Name() string { return "tls" }

// AbortMessage implements Sniffer.
func (TLS) AbortMessage() []byte { return tlsAbortMessage }

// Parse implements Sniffer.
func (TLS) Parse(prefix []byte) Result {
	if len(prefix) < tlsRecordHeaderLen {
		return Result{Status: StatusNeedMore}
	}
	if prefix[0] != recordTypeHandshake {
		return Result{Status: StatusMalformed}
	}

	recordLen := int(prefix[3])<<8 | int(prefix[4])
	total := tlsRecordHeaderLen + recordLen
	if len(prefix) < total {
		return Result{Status: StatusNeedMore}
	}

	hostname, status := parseClientHello(prefix[tlsRecordHeaderLen:total])
	if status != StatusOK {
		return Result{Status: status}
	}
	return Result{
		Status:   StatusOK,
		Hostname: normalizeHostname(hostname),
		Consumed: total,
	}
}

// parseClientHello walks a single handshake message (already known to be
// fully buffered by the caller) looking for the server_name extension.
func parseClientHello(handshake []byte) ([]byte, Status) {
	s := cryptobyte.String(handshake)

	var msgType uint8
	if !s.ReadUint8(&msgType) || msgType != handshakeTypeClientHello {
		return nil, StatusMalformed
	}

	var body cryptobyte.String
	if !s.ReadUint24LengthPrefixed(&body) {
		return nil, StatusMalformed
	}

	if !body.Skip(2 + 32) { // legacy_version, random
		return nil, StatusMalformed
	}

	var sessionID, cipherSuites, compressionMethods cryptobyte.String
	if !body.ReadUint8LengthPrefixed(&sessionID) ||
		!body.ReadUint16LengthPrefixed(&cipherSuites) ||
		!body.ReadUint8LengthPrefixed(&compressionMethods) {
		return nil, StatusMalformed
	}

	if body.Empty() {
		// Pre-TLS-1.2-style ClientHello with no extensions block at all.
		return nil, StatusNoHostname
	}

	var extensions cryptobyte.String
	if !body.ReadUint16LengthPrefixed(&extensions) {
		return nil, StatusMalformed
	}

	for !extensions.Empty() {
		var extType uint16
		var extData cryptobyte.String
		if !extensions.ReadUint16(&extType) || !extensions.ReadUint16LengthPrefixed(&extData) {
			return nil, StatusMalformed
		}
		if extType != extensionServerName {
			continue
		}
		return parseServerNameExtension(extData)
	}

	return nil, StatusNoHostname
}

func parseServerNameExtension(extData cryptobyte.String) ([]byte, Status) {
	var names cryptobyte.String
	if !extData.ReadUint16LengthPrefixed(&names) {
		return nil, StatusMalformed
	}

	for !names.Empty() {
		var nameType uint8
		var hostName cryptobyte.String
		if !names.ReadUint8(&nameType) || !names.ReadUint16LengthPrefixed(&hostName) {
			return nil, StatusMalformed
		}
		if nameType == sniNameTypeHostName {
			return []byte(hostName), StatusOK
		}
	}

	return nil, StatusNoHostname
}
