// Package node describes the converter as a graph node: its input schema,
// defaults and choices, and the entry point that runs a conversion from
// node parameters.
package node

import (
	"context"
	"errors"
	"fmt"
	"slices"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/requant/internal/convert"
	"github.com/samcharles93/requant/internal/device"
	"github.com/samcharles93/requant/internal/profile"
	"github.com/samcharles93/requant/internal/progress"
	"github.com/samcharles93/requant/internal/registry"
)

const (
	ClassName     = "ConvertToNVFP4"
	DisplayName   = "Kitchen NVFP4 Converter"
	Category      = "Kitchen"
	DefaultOutput = "model-nvfp4"

	TypeString = "STRING"
	TypeCombo  = "COMBO"
)

var ErrInvalidParam = errors.New("invalid node parameter")

// Input is one required node input.
type Input struct {
	Name    string
	Type    string
	Choices []string
	Default string
}

// Schema is the node description served to graph front ends.
type Schema struct {
	Name        string
	DisplayName string
	Category    string
	OutputNode  bool
	Inputs      []Input
	Outputs     []string
	OutputNames []string
}

// MarshalJSON renders the object_info shape: combo inputs are a choice list,
// other inputs a type name, each followed by an options object.
func (s Schema) MarshalJSON() ([]byte, error) {
	required := make(map[string][]any, len(s.Inputs))
	order := make([]string, 0, len(s.Inputs))
	for _, in := range s.Inputs {
		opts := map[string]any{}
		if in.Default != "" {
			opts["default"] = in.Default
		}
		var kind any = in.Type
		if in.Type == TypeCombo {
			kind = in.Choices
		}
		required[in.Name] = []any{kind, opts}
		order = append(order, in.Name)
	}
	return json.Marshal(struct {
		Input       map[string]map[string][]any `json:"input"`
		InputOrder  map[string][]string         `json:"input_order"`
		Output      []string                    `json:"output"`
		OutputName  []string                    `json:"output_name"`
		Name        string                      `json:"name"`
		DisplayName string                      `json:"display_name"`
		Category    string                      `json:"category"`
		OutputNode  bool                        `json:"output_node"`
	}{
		Input:       map[string]map[string][]any{"required": required},
		InputOrder:  map[string][]string{"required": order},
		Output:      s.Outputs,
		OutputName:  s.OutputNames,
		Name:        s.Name,
		DisplayName: s.DisplayName,
		Category:    s.Category,
		OutputNode:  s.OutputNode,
	})
}

// Input returns the named input.
func (s Schema) Input(name string) (Input, bool) {
	for _, in := range s.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return Input{}, false
}

// Params are the values a caller supplies for one execution.
type Params struct {
	ModelName      string `json:"model_name"`
	OutputFilename string `json:"output_filename"`
	ModelType      string `json:"model_type"`
	Device         string `json:"device"`
}

// Lister enumerates models in a registry folder.
type Lister interface {
	List(folder string) ([]string, error)
}

// Runner executes a conversion request.
type Runner interface {
	Run(ctx context.Context, req convert.Request) (*convert.Report, error)
}

type Node struct {
	Models Lister
	Runner Runner
}

func New(models Lister, runner Runner) *Node {
	return &Node{Models: models, Runner: runner}
}

// Schema lists the current model choices with the fixed profile and device
// choices.
func (n *Node) Schema() (Schema, error) {
	models, err := n.Models.List(registry.DiffusionModels)
	if err != nil {
		return Schema{}, err
	}
	return Schema{
		Name:        ClassName,
		DisplayName: DisplayName,
		Category:    Category,
		OutputNode:  true,
		Inputs: []Input{
			{Name: "model_name", Type: TypeCombo, Choices: models},
			{Name: "output_filename", Type: TypeString, Default: DefaultOutput},
			{Name: "model_type", Type: TypeCombo, Choices: profile.Names(), Default: profile.Default().Name},
			{Name: "device", Type: TypeCombo, Choices: device.Choices(), Default: device.Default()},
		},
		Outputs:     []string{TypeString},
		OutputNames: []string{"status"},
	}, nil
}

// Resolve fills defaults and checks combo values against the schema.
func (s Schema) Resolve(p Params) (Params, error) {
	values := map[string]*string{
		"model_name":      &p.ModelName,
		"output_filename": &p.OutputFilename,
		"model_type":      &p.ModelType,
		"device":          &p.Device,
	}
	for _, in := range s.Inputs {
		v, ok := values[in.Name]
		if !ok {
			continue
		}
		if *v == "" {
			*v = in.Default
		}
		if *v == "" {
			return Params{}, fmt.Errorf("%w: %s is required", ErrInvalidParam, in.Name)
		}
		if in.Type == TypeCombo && !slices.Contains(in.Choices, *v) {
			return Params{}, fmt.Errorf("%w: %s %q is not one of the allowed values", ErrInvalidParam, in.Name, *v)
		}
	}
	return p, nil
}

// Execute validates p and runs the conversion.
func (n *Node) Execute(ctx context.Context, p Params, rep progress.Reporter) (*convert.Report, error) {
	schema, err := n.Schema()
	if err != nil {
		return nil, err
	}
	p, err = schema.Resolve(p)
	if err != nil {
		return nil, err
	}
	return n.Runner.Run(ctx, convert.Request{
		ModelName:  p.ModelName,
		OutputName: p.OutputFilename,
		Profile:    p.ModelType,
		Device:     p.Device,
		Progress:   rep,
	})
}
