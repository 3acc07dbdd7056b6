// Package linkdevice implements the five-state link-device protocol of
// spec.md section 4.4.3, both the new-device (importer) and source-device
// (exporter) sides.
//
// Grounded on internal/bootstrap/enrollmenttoken/token.go for the
// signed, scoped, single-use token shape behind the opId/URI exchange,
// and on internal/domains/group/model/domain.go's explicit
// transition-validation style for driving models.LinkDeviceState.
package linkdevice

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	cryptorand "crypto/rand"

	"github.com/meshid-core/core/pkg/models"
)

var ErrUnknownScheme = errors.New("unknown link-device message scheme")

// encodeMessage frames a payload map as the wire record of spec.md
// section 4.4.3.
func encodeMessage(payload map[string]string) ([]byte, error) {
	return json.Marshal(models.LinkDeviceMessage{
		SchemeID: models.LinkDeviceMessageSchemeID,
		Payload:  payload,
	})
}

// decodeMessage parses a wire frame; an unrecognized scheme_id is a
// protocol violation that sinks the session to ERR immediately.
func decodeMessage(frame []byte) (map[string]string, error) {
	var msg models.LinkDeviceMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, err
	}
	if msg.SchemeID != models.LinkDeviceMessageSchemeID {
		return nil, ErrUnknownScheme
	}
	return msg.Payload, nil
}

// generateOpID derives a six-digit operation id (spec.md section 4.4.3).
func generateOpID() (string, error) {
	n, err := cryptorand.Int(cryptorand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// BuildURI and ParseURI implement the jami-auth://<tmp_user_id>/<opId>
// addressing scheme of spec.md section 4.4.3.
func BuildURI(tmpUserID, opID string) string {
	return fmt.Sprintf("jami-auth://%s/%s", tmpUserID, opID)
}

func ParseURI(uri string) (tmpUserID, opID string, err error) {
	const prefix = "jami-auth://"
	if len(uri) <= len(prefix) || uri[:len(prefix)] != prefix {
		return "", "", errors.New("invalid link-device uri")
	}
	rest := uri[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:], nil
		}
	}
	return "", "", errors.New("invalid link-device uri: missing opId")
}

func channelSubProtocol(opID string) string {
	return "auth:" + opID
}
