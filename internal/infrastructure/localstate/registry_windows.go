//go:build windows

package localstate

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sys/windows/registry"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/domain/state"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// Registry reads and writes the local Windows registry.
type Registry struct {
	logger ports.Logger
}

// New returns the platform registry client.
func New(logger ports.Logger) (ports.LocalStateClient, error) {
	return &Registry{logger: logger}, nil
}

func rootKey(h Hive) (registry.Key, error) {
	switch h {
	case HiveLocalMachine:
		return registry.LOCAL_MACHINE, nil
	case HiveCurrentUser:
		return registry.CURRENT_USER, nil
	case HiveClassesRoot:
		return registry.CLASSES_ROOT, nil
	case HiveUsers:
		return registry.USERS, nil
	}
	return 0, fmt.Errorf("unsupported hive %q", h)
}

func open(path string, access uint32) (registry.Key, error) {
	hive, sub, err := SplitPath(path)
	if err != nil {
		return 0, reconcile.NewError(reconcile.ErrCodeValidation, "invalid registry path", err, nil)
	}
	root, err := rootKey(hive)
	if err != nil {
		return 0, reconcile.NewError(reconcile.ErrCodeValidation, "invalid registry path", err, nil)
	}
	return registry.OpenKey(root, sub, access)
}

// Read implements ports.LocalStateClient.
func (r *Registry) Read(ctx context.Context, path, name string) (state.Value, bool, error) {
	if err := ctx.Err(); err != nil {
		return state.Value{}, false, err
	}
	k, err := open(path, registry.QUERY_VALUE)
	if errors.Is(err, registry.ErrNotExist) {
		return state.Value{}, false, nil
	}
	if err != nil {
		return state.Value{}, false, unavailable(path, err)
	}
	defer k.Close()

	_, valType, err := k.GetValue(name, nil)
	if errors.Is(err, registry.ErrNotExist) {
		return state.Value{}, false, nil
	}
	if err != nil {
		return state.Value{}, false, unavailable(path, err)
	}

	switch valType {
	case registry.DWORD:
		n, _, err := k.GetIntegerValue(name)
		if err != nil {
			return state.Value{}, false, unavailable(path, err)
		}
		return state.DWordValue(uint32(n)), true, nil
	case registry.QWORD:
		n, _, err := k.GetIntegerValue(name)
		if err != nil {
			return state.Value{}, false, unavailable(path, err)
		}
		return state.QWordValue(n), true, nil
	case registry.SZ, registry.EXPAND_SZ:
		s, _, err := k.GetStringValue(name)
		if err != nil {
			return state.Value{}, false, unavailable(path, err)
		}
		return state.StringValue(s), true, nil
	}
	return state.Value{}, false, reconcile.NewError(reconcile.ErrCodeValidation, "unsupported registry value type", nil,
		map[string]interface{}{"path": path, "name": name, "type": valType})
}

// Write implements ports.LocalStateClient, creating the key when missing.
func (r *Registry) Write(ctx context.Context, path, name string, value state.Value) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	hive, sub, err := SplitPath(path)
	if err != nil {
		return reconcile.NewError(reconcile.ErrCodeValidation, "invalid registry path", err, nil)
	}
	root, err := rootKey(hive)
	if err != nil {
		return reconcile.NewError(reconcile.ErrCodeValidation, "invalid registry path", err, nil)
	}
	k, _, err := registry.CreateKey(root, sub, registry.SET_VALUE)
	if err != nil {
		return reconcile.ActionError("open registry key for write", err, map[string]interface{}{"path": path})
	}
	defer k.Close()

	switch value.Kind {
	case state.ValueDWord:
		err = k.SetDWordValue(name, uint32(value.Num))
	case state.ValueQWord:
		err = k.SetQWordValue(name, value.Num)
	default:
		err = k.SetStringValue(name, value.Str)
	}
	if err != nil {
		return reconcile.ActionError("write registry value", err, map[string]interface{}{"path": path, "name": name})
	}
	if r.logger != nil {
		r.logger.Debug(ctx, "registry value written", "path", path, "name", name, "value", value.String())
	}
	return nil
}

// EnumerateSubkeys implements ports.LocalStateClient.
func (r *Registry) EnumerateSubkeys(ctx context.Context, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k, err := open(path, registry.ENUMERATE_SUB_KEYS)
	if errors.Is(err, registry.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(path, err)
	}
	defer k.Close()

	names, err := k.ReadSubKeyNames(0)
	if err != nil {
		return nil, unavailable(path, err)
	}
	sort.Strings(names)
	return names, nil
}

func unavailable(path string, err error) error {
	var dErr *reconcile.DomainError
	if errors.As(err, &dErr) {
		return err
	}
	return reconcile.NewError(reconcile.ErrCodeSourceUnavailable, "registry read failed", err, map[string]interface{}{"path": path})
}

var _ ports.LocalStateClient = (*Registry)(nil)
