package defs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bridgecrew-perf6/tdp-lib/pkg/engine"
	"github.com/rs/zerolog/log"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// runGenerator executes one generator script and returns the service
// documents it emitted. The script must define generate(ctx) returning
// a list of service dicts; ctx carries the services merged so far and
// the owning collection name.
func (l *Loader) runGenerator(ctx context.Context, path string, input map[string]interface{}) ([]map[string]interface{}, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewValidationError("failed to read generator %s: %s", path, err)
	}

	evalCtx, cancel := context.WithTimeout(ctx, l.genTimeout)
	defer cancel()

	name := filepath.Base(path)
	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			log.Debug().Str("generator", name).Msg(msg)
		},
	}

	type result struct {
		docs []map[string]interface{}
		err  error
	}
	resultCh := make(chan result, 1)

	go func() {
		docs, err := evalGenerator(thread, name, src, input)
		resultCh <- result{docs: docs, err: err}
	}()

	select {
	case <-evalCtx.Done():
		// Cancel stops the script between starlark steps; the goroutine
		// then drains into the buffered channel.
		thread.Cancel(evalCtx.Err().Error())
		if errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return nil, engine.NewValidationError(
				"generator %s did not finish within %s", name, l.genTimeout)
		}
		return nil, engine.NewValidationError("generator %s: %s", name, evalCtx.Err())
	case res := <-resultCh:
		if res.err != nil {
			return nil, engine.NewValidationError("generator %s: %s", name, res.err)
		}
		return res.docs, nil
	}
}

// evalGenerator performs the actual script execution synchronously.
func evalGenerator(thread *starlark.Thread, name string, src []byte, input map[string]interface{}) ([]map[string]interface{}, error) {
	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}

	globals, err := starlark.ExecFile(thread, name, src, predeclared)
	if err != nil {
		return nil, err
	}

	fn, ok := globals["generate"]
	if !ok {
		return nil, fmt.Errorf("script does not define generate(ctx)")
	}
	callable, ok := fn.(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("generate is not callable")
	}

	ctxVal, err := toStarlarkValue(input)
	if err != nil {
		return nil, fmt.Errorf("failed to build generator input: %w", err)
	}

	ret, err := starlark.Call(thread, callable, starlark.Tuple{ctxVal}, nil)
	if err != nil {
		return nil, err
	}

	list, ok := ret.(*starlark.List)
	if !ok {
		return nil, fmt.Errorf("generate must return a list of services, got %s", ret.Type())
	}

	docs := make([]map[string]interface{}, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		item, err := fromStarlarkValue(list.Index(i))
		if err != nil {
			return nil, fmt.Errorf("service %d: %w", i, err)
		}
		doc, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("service %d: expected a dict, got %s", i, list.Index(i).Type())
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// serviceDoc renders a service as the plain document form passed to
// generators and accepted back from them.
func serviceDoc(svc Service) map[string]interface{} {
	doc := map[string]interface{}{"name": svc.Name}
	if len(svc.DependsOn) > 0 {
		doc["depends_on"] = toAnySlice(svc.DependsOn)
	}
	if len(svc.Operations) > 0 {
		doc["operations"] = operationDocs(svc.Operations)
	}
	if len(svc.Components) > 0 {
		comps := make([]interface{}, len(svc.Components))
		for i, comp := range svc.Components {
			c := map[string]interface{}{
				"name":       comp.Name,
				"operations": operationDocs(comp.Operations),
			}
			if len(comp.DependsOn) > 0 {
				c["depends_on"] = toAnySlice(comp.DependsOn)
			}
			comps[i] = c
		}
		doc["components"] = comps
	}
	return doc
}

func operationDocs(ops []Operation) []interface{} {
	out := make([]interface{}, len(ops))
	for i, op := range ops {
		doc := map[string]interface{}{"kind": string(op.Kind)}
		if op.Noop {
			doc["noop"] = true
		}
		if len(op.DependsOn) > 0 {
			doc["depends_on"] = toAnySlice(op.DependsOn)
		}
		out[i] = doc
	}
	return out
}

func toAnySlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			conv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = conv
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			conv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), conv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			conv, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = conv
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			conv, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = conv
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
