// Package lightcast defines the Lightcast skills streams and wires them to an
// authenticated client.
package lightcast

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/Sternrassler/tap-lightcast/pkg/singer"
	"github.com/Sternrassler/tap-lightcast/pkg/tap"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Stream names.
const (
	StreamLatestVersion = "skills_latest_version"
	StreamSkillsList    = "skills_list"
	StreamSkillsDetails = "skills_details"
)

// Scope is the OAuth scope of the open skills API.
const Scope = "emsi_open"

// Context keys passed from parent to child streams.
const (
	KeyLatestVersion = "latestVersion"
	KeyID            = "id"
)

var (
	LatestVersionSchema = singer.MustSchema(`{
		"type": "object",
		"properties": {
			"latestVersion": {"type": "string", "minLength": 1}
		},
		"required": ["latestVersion"]
	}`)

	SkillsListSchema = singer.MustSchema(`{
		"type": "object",
		"properties": {
			"id": {"type": "string"},
			"latestVersion": {"type": ["string", "null"]}
		},
		"required": ["id"]
	}`)

	SkillsDetailsSchema = singer.MustSchema(`{
		"type": "object",
		"properties": {
			"latestVersion": {"type": ["string", "null"]},
			"id": {"type": "string"},
			"name": {"type": ["string", "null"]},
			"type": {
				"type": ["object", "null"],
				"properties": {
					"id": {"type": ["string", "null"]},
					"name": {"type": ["string", "null"]}
				}
			},
			"category": {
				"type": ["object", "null"],
				"properties": {
					"id": {"type": ["integer", "null"]},
					"name": {"type": ["string", "null"]}
				}
			},
			"subcategory": {
				"type": ["object", "null"],
				"properties": {
					"id": {"type": ["integer", "null"]},
					"name": {"type": ["string", "null"]}
				}
			},
			"isLanguage": {"type": ["boolean", "null"]},
			"isSoftware": {"type": ["boolean", "null"]},
			"description": {"type": ["string", "null"]},
			"descriptionSource": {"type": ["string", "null"]}
		},
		"required": ["id"]
	}`)
)

// Streams returns the three chained streams. limit caps the skill ids;
// 0 means no cap.
func Streams(limit int) []*tap.Stream {
	return []*tap.Stream{
		{
			Name:        StreamLatestVersion,
			Path:        "/meta",
			RecordsPath: "data",
			Schema:      LatestVersionSchema,
			PrimaryKeys: []string{KeyLatestVersion},
			Required:    true,
			PostProcess: latestVersionRecord,
		},
		{
			Name:           StreamSkillsList,
			Path:           "/versions/{latestVersion}/skills",
			RecordsPath:    "data",
			Schema:         SkillsListSchema,
			PrimaryKeys:    []string{KeyID},
			ReplicationKey: KeyLatestVersion,
			Parent:         StreamLatestVersion,
			MaxRecords:     limit,
			URLParams: func(tap.Context) url.Values {
				params := url.Values{"fields": {"id"}}
				if limit > 0 {
					params.Set("limit", strconv.Itoa(limit))
				}
				return params
			},
			PostProcess: stampVersion(SkillsListSchema),
		},
		{
			Name:        StreamSkillsDetails,
			Path:        "/versions/{latestVersion}/skills/{id}",
			RecordsPath: "data",
			Schema:      SkillsDetailsSchema,
			PrimaryKeys: []string{KeyID},
			Parent:      StreamSkillsList,
			Required:    true,
			PostProcess: stampVersion(SkillsDetailsSchema),
		},
	}
}

// latestVersionRecord reduces the /meta payload to {"latestVersion": …}.
func latestVersionRecord(record []byte, _ tap.Context) ([]byte, error) {
	version := gjson.GetBytes(record, KeyLatestVersion)
	if version.Type != gjson.String || version.String() == "" {
		return nil, fmt.Errorf("meta response has no latestVersion")
	}
	log.Info().Str("version", version.String()).Msg("Resolved taxonomy version")
	return sjson.SetBytes([]byte(`{}`), KeyLatestVersion, version.String())
}

// stampVersion keeps the schema's properties and sets latestVersion from the context.
func stampVersion(schema *singer.Schema) func([]byte, tap.Context) ([]byte, error) {
	props := schema.Properties()
	return func(record []byte, ctx tap.Context) ([]byte, error) {
		out, err := project(record, props)
		if err != nil {
			return nil, err
		}
		return sjson.SetBytes(out, KeyLatestVersion, ctx[KeyLatestVersion])
	}
}

// project copies the listed top-level properties of record, dropping the rest.
func project(record []byte, props []string) ([]byte, error) {
	out := []byte(`{}`)
	var err error
	for _, p := range props {
		v := gjson.GetBytes(record, p)
		if !v.Exists() {
			continue
		}
		out, err = sjson.SetRawBytes(out, p, []byte(v.Raw))
		if err != nil {
			return nil, fmt.Errorf("copy %s: %w", p, err)
		}
	}
	return out, nil
}
