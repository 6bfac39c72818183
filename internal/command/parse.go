package command

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"golang.org/x/text/unicode/norm"
)

//go:embed schema.cue
var schemaSrc string

// ErrMalformed is wrapped by every error Parse returns.
var ErrMalformed = errors.New("malformed command")

type idArgs struct {
	ID string `json:"id"`
}

type scanArgs struct {
	Prefix string `json:"prefix"`
	Start  string `json:"start"`
	Limit  int    `json:"limit"`
}

type envelope struct {
	Put       *idArgs   `json:"put"`
	Get       *idArgs   `json:"get"`
	Has       *idArgs   `json:"has"`
	Del       *idArgs   `json:"del"`
	Scan      *scanArgs `json:"scan"`
	PutBundle *struct{} `json:"putBundle"`
	GetBundle *struct{} `json:"getBundle"`
	ClientID  *struct{} `json:"clientID"`
}

// Parse decodes and validates a command payload.
// All errors wrap ErrMalformed.
func Parse(payload []byte) (Command, error) {
	if !json.Valid(payload) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", ErrMalformed)
	}
	if err := validate(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var cmds []Command
	if env.Put != nil {
		cmds = append(cmds, &DataPut{ID: normalizeID(env.Put.ID)})
	}
	if env.Get != nil {
		cmds = append(cmds, &DataGet{ID: normalizeID(env.Get.ID)})
	}
	if env.Has != nil {
		cmds = append(cmds, &DataHas{ID: normalizeID(env.Has.ID)})
	}
	if env.Del != nil {
		cmds = append(cmds, &DataDel{ID: normalizeID(env.Del.ID)})
	}
	if env.Scan != nil {
		cmds = append(cmds, &DataScan{
			Prefix: normalizeID(env.Scan.Prefix),
			Start:  normalizeID(env.Scan.Start),
			Limit:  env.Scan.Limit,
		})
	}
	if env.PutBundle != nil {
		cmds = append(cmds, &BundlePut{})
	}
	if env.GetBundle != nil {
		cmds = append(cmds, &BundleGet{})
	}
	if env.ClientID != nil {
		cmds = append(cmds, &ClientIDGet{})
	}

	if len(cmds) != 1 {
		return nil, fmt.Errorf("%w: payload must name exactly one command, got %d", ErrMalformed, len(cmds))
	}
	return cmds[0], nil
}

// validate unifies the payload with #Command.
//
// A fresh cue.Context is used per call: contexts are not safe for
// concurrent use and retain every value compiled into them.
func validate(payload []byte) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSrc, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Command"))

	v := ctx.CompileBytes(payload, cue.Filename("command.json"))
	if err := v.Err(); err != nil {
		return err
	}

	return def.Unify(v).Validate(cue.Concrete(true))
}

func normalizeID(id string) string {
	return norm.NFC.String(id)
}
