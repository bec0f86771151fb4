// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

package check

import (
	"fmt"
	"reflect"

	"github.com/pitkley/watchpost/pkg/result"
)

// returnShape records, at registration time, how a check function reports
// its results. Normalization dispatches on this tag, never on runtime type
// introspection.
type returnShape struct {
	kind         shapeKind
	returnsError bool
}

type shapeKind int

const (
	shapeSingle shapeKind = iota
	shapeBuilder
	shapeSlice
	shapeChannel
)

var (
	errType        = reflect.TypeOf((*error)(nil)).Elem()
	resultType     = reflect.TypeOf(result.CheckResult{})
	resultPtrType  = reflect.TypeOf((*result.CheckResult)(nil))
	builderType    = reflect.TypeOf((*result.Builder)(nil))
	resultsType    = reflect.TypeOf([]result.CheckResult(nil))
	resultChanType = reflect.TypeOf((<-chan result.CheckResult)(nil))
)

func detectReturnShape(fnType reflect.Type) (returnShape, error) {
	numOut := fnType.NumOut()
	if numOut == 0 || numOut > 2 {
		return returnShape{}, fmt.Errorf("unsupported return signature %s: expected a result value and an optional error", fnType)
	}

	shape := returnShape{}
	if numOut == 2 {
		if fnType.Out(1) != errType {
			return returnShape{}, fmt.Errorf("unsupported return signature %s: second return value must be error", fnType)
		}
		shape.returnsError = true
	}

	switch out := fnType.Out(0); out {
	case resultType, resultPtrType:
		shape.kind = shapeSingle
	case builderType:
		shape.kind = shapeBuilder
	case resultsType:
		shape.kind = shapeSlice
	case resultChanType:
		shape.kind = shapeChannel
	default:
		if out.Kind() == reflect.Chan && out.Elem() == resultType {
			shape.kind = shapeChannel
			break
		}
		return returnShape{}, fmt.Errorf(
			"unsupported result type %s: expected CheckResult, *CheckResult, []CheckResult, *result.Builder or <-chan CheckResult", out)
	}

	return shape, nil
}

// NormalizeReturn converts the raw return values of one invocation into the
// ordered result sequence, draining channels and finalizing builders. The
// returned error is the check's own error value when its signature carries
// one.
func (c *Check) NormalizeReturn(out []reflect.Value) ([]result.CheckResult, error) {
	if c.shape.returnsError {
		if errValue := out[len(out)-1]; !errValue.IsNil() {
			return nil, errValue.Interface().(error)
		}
	}

	value := out[0]
	switch c.shape.kind {
	case shapeSingle:
		if value.Kind() == reflect.Ptr {
			if value.IsNil() {
				return nil, fmt.Errorf("check %s returned a nil *CheckResult", c.id)
			}
			return []result.CheckResult{value.Elem().Interface().(result.CheckResult)}, nil
		}
		return []result.CheckResult{value.Interface().(result.CheckResult)}, nil

	case shapeBuilder:
		if value.IsNil() {
			return nil, fmt.Errorf("check %s returned a nil *result.Builder", c.id)
		}
		return []result.CheckResult{value.Interface().(*result.Builder).Finalize()}, nil

	case shapeSlice:
		results := make([]result.CheckResult, value.Len())
		for i := 0; i < value.Len(); i++ {
			results[i] = value.Index(i).Interface().(result.CheckResult)
		}
		return results, nil

	case shapeChannel:
		if value.IsNil() {
			return nil, fmt.Errorf("check %s returned a nil result channel", c.id)
		}
		var results []result.CheckResult
		for {
			item, ok := value.Recv()
			if !ok {
				return results, nil
			}
			results = append(results, item.Interface().(result.CheckResult))
		}

	default:
		return nil, fmt.Errorf("check %s has an unknown return shape", c.id)
	}
}
