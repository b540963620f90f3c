// Package eefake is an in-memory stand-in for the Earth Engine client used
// in tests. Exports and imports create their asset when the operation
// finishes, which happens after a configurable number of polls.
package eefake

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"leafprep/internal/earthengine"
	"leafprep/internal/ee"
)

// Export is a recorded table export or import.
type Export struct {
	AssetID     string
	Description string
	Expression  *ee.Expression
	URIs        []string
}

type operation struct {
	op        earthengine.Operation
	assetID   string
	remaining int
	fail      string
}

// Fake implements the client interfaces of the assets, tasks, pipeline and
// sampler packages.
type Fake struct {
	mu sync.Mutex

	assets  map[string]earthengine.Asset
	ops     map[string]*operation
	opOrder []string
	next    int

	// Exports lists every started export and import in order.
	Exports []Export
	// Deleted and Moved record mutations in order.
	Deleted []string
	Moved   [][2]string

	// PollsToFinish is how many GetOperation calls an operation stays RUNNING.
	PollsToFinish int
	// FailAssets makes exports to these asset ids end FAILED with the message.
	FailAssets map[string]string
	// DeleteErrors makes DeleteAsset fail for these ids.
	DeleteErrors map[string]error
	// Values answers ComputeValue calls; the key is the root function name.
	Values map[string]interface{}
	// Features answers ComputeFeatures calls.
	Features []json.RawMessage
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		assets:       make(map[string]earthengine.Asset),
		ops:          make(map[string]*operation),
		FailAssets:   make(map[string]string),
		DeleteErrors: make(map[string]error),
		Values:       make(map[string]interface{}),
	}
}

// AddAsset creates an asset directly.
func (f *Fake) AddAsset(id, typ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := earthengine.AssetName(id)
	f.assets[name] = earthengine.Asset{Type: typ, Name: name, ID: id}
}

// HasAsset reports whether the asset exists.
func (f *Fake) HasAsset(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.assets[earthengine.AssetName(id)]
	return ok
}

// FinishAll completes every running operation immediately.
func (f *Fake) FinishAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, name := range f.opOrder {
		f.finish(f.ops[name])
	}
}

// ExportFor returns the recorded export to assetID.
func (f *Fake) ExportFor(assetID string) (Export, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.Exports {
		if e.AssetID == assetID {
			return e, true
		}
	}
	return Export{}, false
}

func notFound(name string) error {
	return &earthengine.APIError{Code: 404, Status: "NOT_FOUND", Message: fmt.Sprintf("%s not found", name)}
}

// GetAsset implements the client method.
func (f *Fake) GetAsset(_ context.Context, id string) (*earthengine.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assets[earthengine.AssetName(id)]
	if !ok {
		return nil, notFound(id)
	}
	return &a, nil
}

// AssetExists implements the client method.
func (f *Fake) AssetExists(ctx context.Context, id string) bool {
	_, err := f.GetAsset(ctx, id)
	return err == nil
}

// ListAssets returns direct children of parent sorted by name.
func (f *Fake) ListAssets(_ context.Context, parent string) ([]earthengine.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := earthengine.AssetName(parent) + "/"
	var out []earthengine.Asset
	for name, a := range f.assets {
		if strings.HasPrefix(name, prefix) && !strings.Contains(strings.TrimPrefix(name, prefix), "/") {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateFolder implements the client method.
func (f *Fake) CreateFolder(_ context.Context, id string) (*earthengine.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := earthengine.AssetName(id)
	if _, ok := f.assets[name]; ok {
		return nil, &earthengine.APIError{Code: 409, Status: "ALREADY_EXISTS", Message: "exists"}
	}
	a := earthengine.Asset{Type: earthengine.AssetFolder, Name: name, ID: id}
	f.assets[name] = a
	return &a, nil
}

// DeleteAsset implements the client method.
func (f *Fake) DeleteAsset(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.DeleteErrors[id]; ok {
		return err
	}
	name := earthengine.AssetName(id)
	if _, ok := f.assets[name]; !ok {
		return notFound(id)
	}
	delete(f.assets, name)
	f.Deleted = append(f.Deleted, id)
	return nil
}

// MoveAsset implements the client method.
func (f *Fake) MoveAsset(_ context.Context, from, to string) (*earthengine.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src := earthengine.AssetName(from)
	a, ok := f.assets[src]
	if !ok {
		return nil, notFound(from)
	}
	delete(f.assets, src)
	a.Name = earthengine.AssetName(to)
	a.ID = to
	f.assets[a.Name] = a
	f.Moved = append(f.Moved, [2]string{from, to})
	return &a, nil
}

func (f *Fake) start(assetID, description string, rec Export) *earthengine.Operation {
	f.next++
	name := fmt.Sprintf("projects/fake/operations/OP%04d", f.next)
	o := &operation{
		op: earthengine.Operation{
			Name:     name,
			Metadata: earthengine.OperationMetadata{State: earthengine.StatePending, Description: description},
		},
		assetID:   assetID,
		remaining: f.PollsToFinish,
		fail:      f.FailAssets[assetID],
	}
	f.ops[name] = o
	f.opOrder = append(f.opOrder, name)
	f.Exports = append(f.Exports, rec)
	out := o.op
	return &out
}

func (f *Fake) finish(o *operation) {
	if earthengine.IsTerminal(o.op.Metadata.State) {
		return
	}
	o.op.Done = true
	if o.fail != "" {
		o.op.Metadata.State = earthengine.StateFailed
		o.op.Error = &earthengine.APIError{Code: 3, Message: o.fail}
		return
	}
	o.op.Metadata.State = earthengine.StateSucceeded
	name := earthengine.AssetName(o.assetID)
	f.assets[name] = earthengine.Asset{Type: earthengine.AssetTable, Name: name, ID: o.assetID}
}

// ExportTable implements the client method.
func (f *Fake) ExportTable(_ context.Context, collection ee.Expr, assetID, description string) (*earthengine.Operation, error) {
	expr, err := ee.Encode(collection)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.start(assetID, description, Export{AssetID: assetID, Description: description, Expression: expr}), nil
}

// ImportTable implements the client method.
func (f *Fake) ImportTable(_ context.Context, assetID string, uris []string) (*earthengine.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	desc := "import " + path.Base(assetID)
	return f.start(assetID, desc, Export{AssetID: assetID, Description: desc, URIs: uris}), nil
}

func opName(name string) string {
	if strings.Contains(name, "/") {
		return name
	}
	return "projects/fake/operations/" + name
}

// GetOperation advances the operation by one poll.
func (f *Fake) GetOperation(_ context.Context, name string) (*earthengine.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.ops[opName(name)]
	if !ok {
		return nil, notFound(name)
	}
	if !earthengine.IsTerminal(o.op.Metadata.State) {
		if o.remaining > 0 {
			o.remaining--
			o.op.Metadata.State = earthengine.StateRunning
		} else {
			f.finish(o)
		}
	}
	out := o.op
	return &out, nil
}

// ListOperations implements the client method.
func (f *Fake) ListOperations(_ context.Context) ([]earthengine.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]earthengine.Operation, 0, len(f.opOrder))
	for i := len(f.opOrder) - 1; i >= 0; i-- {
		out = append(out, f.ops[f.opOrder[i]].op)
	}
	return out, nil
}

// CancelOperation implements the client method.
func (f *Fake) CancelOperation(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.ops[opName(name)]
	if !ok {
		return notFound(name)
	}
	if !earthengine.IsTerminal(o.op.Metadata.State) {
		o.op.Metadata.State = earthengine.StateCancelled
		o.op.Done = true
	}
	return nil
}

// ComputeValue answers from Values keyed by the root function name.
func (f *Fake) ComputeValue(_ context.Context, expr ee.Expr, out interface{}) error {
	encoded, err := ee.Encode(expr)
	if err != nil {
		return err
	}
	root := encoded.Values[encoded.Result]
	key := ""
	if root.FunctionInvocationValue != nil {
		key = root.FunctionInvocationValue.FunctionName
	}
	f.mu.Lock()
	v, ok := f.Values[key]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("eefake: no value for %q", key)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// ComputeFeatures returns up to pageSize of Features.
func (f *Fake) ComputeFeatures(_ context.Context, collection ee.Expr, pageSize int) ([]json.RawMessage, error) {
	if _, err := ee.Encode(collection); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.Features
	if pageSize > 0 && len(out) > pageSize {
		out = out[:pageSize]
	}
	return out, nil
}
