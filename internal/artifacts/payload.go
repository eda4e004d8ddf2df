package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrBadPayload marks a site payload the renderer cannot trust.
var ErrBadPayload = errors.New("artifacts: invalid payload")

// PayloadBlock is one renderable section of a generated page. Props carry
// the block's free-form content; BlockID and BlockType are the identity the
// structural probe aligns against.
type PayloadBlock struct {
	BlockID   string         `json:"blockId"`
	BlockType string         `json:"blockType"`
	Props     map[string]any `json:"props,omitempty"`
}

// PayloadPage is one generated page.
type PayloadPage struct {
	Slug   string         `json:"slug"`
	Title  string         `json:"title,omitempty"`
	Blocks []PayloadBlock `json:"blocks"`
}

// Payload is a complete generated site, one file per case.
type Payload struct {
	SiteKey string        `json:"siteKey"`
	Pages   []PayloadPage `json:"pages"`
}

const payloadSchemaSrc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["siteKey", "pages"],
  "properties": {
    "siteKey": {"type": "string", "minLength": 1},
    "pages": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["slug", "blocks"],
        "properties": {
          "slug": {"type": "string", "minLength": 1},
          "title": {"type": "string"},
          "blocks": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["blockId", "blockType"],
              "properties": {
                "blockId": {"type": "string", "minLength": 1},
                "blockType": {"type": "string", "minLength": 1},
                "props": {"type": "object"}
              }
            }
          }
        }
      }
    }
  }
}`

var payloadSchema = jsonschema.MustCompileString("payload.schema.json", payloadSchemaSrc)

// ParsePayload is the validating decode for payload.json: schema first, then
// struct. A payload with no renderable page fails here, not in the renderer.
func ParsePayload(raw []byte) (*Payload, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if err := payloadSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return &p, nil
}

// LoadPayload reads and validates the payload at path.
func LoadPayload(path string) (*Payload, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return ParsePayload(raw)
}

// Page returns the page with the given slug; "" and "/" mean the first page.
func (p *Payload) Page(slug string) (PayloadPage, bool) {
	if slug == "" || slug == "/" {
		if len(p.Pages) == 0 {
			return PayloadPage{}, false
		}
		return p.Pages[0], true
	}
	for _, pg := range p.Pages {
		if pg.Slug == slug {
			return pg, true
		}
	}
	return PayloadPage{}, false
}
