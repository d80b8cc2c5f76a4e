package service

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/noah-isme/flex-statement/internal/models"
)

const statusSuccess = "Success"

// DecodeAcknowledgement classifies a SendRequest reply. It never returns a
// parser error; unparseable bodies come back as AckMalformed with the raw
// bytes attached.
func DecodeAcknowledgement(body []byte) models.Acknowledgement {
	ack := models.Acknowledgement{Raw: body}

	fields, err := scanEnvelope(body)
	if err != nil {
		ack.Kind = models.AckMalformed
		ack.Detail = err.Error()
		return ack
	}

	ack.ErrorCode = strings.TrimSpace(fields["ErrorCode"])
	ack.ErrorMessage = fields["ErrorMessage"]

	status, hasStatus := fields["Status"]
	if !hasStatus {
		ack.Kind = models.AckMalformed
		ack.Detail = "status element missing"
		return ack
	}
	ack.Status = status

	if status != statusSuccess {
		ack.Kind = models.AckRejected
		return ack
	}

	ref := strings.TrimSpace(fields["ReferenceCode"])
	if ref == "" {
		ack.Kind = models.AckMissingReference
		ack.Detail = "status Success without reference code"
		return ack
	}
	ack.Kind = models.AckAccepted
	ack.ReferenceCode = models.ReferenceToken(ref)
	return ack
}

// scanEnvelope collects the raw text of the root element's direct children,
// keyed by local name. Later duplicates win.
func scanEnvelope(body []byte) (map[string]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = charset.NewReaderLabel

	fields := map[string]string{}
	var (
		depth    int
		rootSeen bool
		current  string
		text     strings.Builder
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse acknowledgement: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch depth {
			case 1:
				if rootSeen {
					return nil, errors.New("parse acknowledgement: multiple root elements")
				}
				rootSeen = true
			case 2:
				current = t.Name.Local
				text.Reset()
			}
		case xml.CharData:
			if depth == 2 {
				text.Write(t)
			}
		case xml.EndElement:
			if depth == 2 {
				fields[current] = text.String()
			}
			depth--
		}
	}
	if !rootSeen {
		return nil, errors.New("parse acknowledgement: no root element")
	}
	return fields, nil
}
