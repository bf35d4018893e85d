package engine

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/scoreflow/types"
)

// Evaluator 是加载完成的模型实例。
// 实现必须在构造后不可变，并支持并发调用 Evaluate。
type Evaluator interface {
	// Evaluate 对单条记录求值，失败时返回错误（缺失必填字段、类型不匹配等）
	Evaluate(args types.Record) (types.Record, error)
	// Schema 返回模型的输入输出描述
	Schema() types.Schema
}

// Loader 将原始模型字节解析为 Evaluator
type Loader interface {
	Load(source []byte) (Evaluator, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(source []byte) (Evaluator, error)

// Load implements Loader.
func (f LoaderFunc) Load(source []byte) (Evaluator, error) { return f(source) }

// Builder 根据已解码的模型文档构建 Evaluator。
// 各模型类型在 init 中调用 Register(kind, builder) 完成注册。
type Builder func(doc *Document) (Evaluator, error)

var (
	builders   = make(map[string]Builder)
	buildersMu sync.RWMutex
)

// Register registers a model kind. Registering the same kind twice replaces the builder.
func Register(kind string, builder Builder) {
	if kind == "" || builder == nil {
		return
	}
	buildersMu.Lock()
	defer buildersMu.Unlock()
	builders[kind] = builder
}

// SupportedKinds returns the registered model kinds in sorted order.
func SupportedKinds() []string {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	kinds := make([]string, 0, len(builders))
	for k := range builders {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func lookupBuilder(kind string) (Builder, bool) {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	b, ok := builders[kind]
	return b, ok
}

// =============================================================================
// 📄 Model Document
// =============================================================================

// Document 是 YAML 模型文档的公共部分，Spec 由具体模型类型解码。
type Document struct {
	Kind       string        `yaml:"kind" validate:"required"`
	Summary    string        `yaml:"summary,omitempty"`
	Inputs     []types.Field `yaml:"inputs,omitempty" validate:"dive"`
	Output     string        `yaml:"output,omitempty" validate:"omitempty,identifier"`
	GroupField string        `yaml:"group_field,omitempty"`
	Spec       yaml.Node     `yaml:"spec"`
}

// DecodeSpec decodes the kind-specific section into out and validates it.
func (d *Document) DecodeSpec(out any) error {
	if d.Spec.Kind == 0 {
		return errors.New("missing spec section")
	}
	if err := d.Spec.Decode(out); err != nil {
		return fmt.Errorf("decode spec: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("invalid spec: %w", err)
	}
	return nil
}

// OutputOr returns the declared output field name, or def when none was declared.
func (d *Document) OutputOr(def string) string {
	if d.Output != "" {
		return d.Output
	}
	return def
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return identifierPattern.MatchString(fl.Field().String())
	})
	return v
}

// =============================================================================
// 📦 DocumentLoader
// =============================================================================

// DocumentLoader 解析 YAML 模型文档并按 kind 分发给已注册的 Builder
type DocumentLoader struct{}

// NewLoader creates a loader backed by the registered model kinds.
func NewLoader() *DocumentLoader {
	return &DocumentLoader{}
}

// Load parses source. Every failure is reported as INVALID_MODEL_SOURCE.
func (l *DocumentLoader) Load(source []byte) (Evaluator, error) {
	if len(bytes.TrimSpace(source)) == 0 {
		return nil, types.NewError(types.ErrInvalidModelSource, "model source is empty")
	}

	dec := yaml.NewDecoder(bytes.NewReader(source))
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, types.NewError(types.ErrInvalidModelSource, "model source is empty")
		}
		return nil, types.NewError(types.ErrInvalidModelSource, "malformed model document").WithCause(err)
	}
	if err := validate.Struct(&doc); err != nil {
		return nil, types.NewError(types.ErrInvalidModelSource, "invalid model document").WithCause(err)
	}
	if err := checkFields(doc.Inputs); err != nil {
		return nil, types.NewError(types.ErrInvalidModelSource, "invalid model inputs").WithCause(err)
	}

	build, ok := lookupBuilder(doc.Kind)
	if !ok {
		return nil, types.Errorf(types.ErrInvalidModelSource,
			"unsupported model kind %q (supported: %v)", doc.Kind, SupportedKinds())
	}

	ev, err := build(&doc)
	if err != nil {
		return nil, types.WrapError(err, types.ErrInvalidModelSource,
			fmt.Sprintf("build %s model", doc.Kind))
	}
	return ev, nil
}

func checkFields(fields []types.Field) error {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			return errors.New("field name is required")
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("duplicate field %q", f.Name)
		}
		seen[f.Name] = struct{}{}
		switch f.Type {
		case "", types.FieldString, types.FieldNumber, types.FieldBoolean, types.FieldAny:
		default:
			return fmt.Errorf("field %q has unknown type %q", f.Name, f.Type)
		}
	}
	return nil
}
