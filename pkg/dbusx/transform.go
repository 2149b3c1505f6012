package dbusx

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Wire-to-domain transforms for the property value shapes NetworkManager
// uses. Each returns an error instead of guessing when the wire type does
// not match; the owning cell then keeps its previous value.

// AsString decodes a string variant.
func AsString(v dbus.Variant) (string, error) {
	s, ok := v.Value().(string)
	if !ok {
		return "", typeError(v, "string")
	}
	return s, nil
}

// AsBool decodes a boolean variant.
func AsBool(v dbus.Variant) (bool, error) {
	b, ok := v.Value().(bool)
	if !ok {
		return false, typeError(v, "bool")
	}
	return b, nil
}

// AsByte decodes a byte ('y') variant.
func AsByte(v dbus.Variant) (byte, error) {
	b, ok := v.Value().(byte)
	if !ok {
		return 0, typeError(v, "byte")
	}
	return b, nil
}

// AsUint32 decodes a uint32 ('u') variant.
func AsUint32(v dbus.Variant) (uint32, error) {
	u, ok := v.Value().(uint32)
	if !ok {
		return 0, typeError(v, "uint32")
	}
	return u, nil
}

// AsInt64 decodes an int64 ('x') variant.
func AsInt64(v dbus.Variant) (int64, error) {
	x, ok := v.Value().(int64)
	if !ok {
		return 0, typeError(v, "int64")
	}
	return x, nil
}

// AsBytes decodes a byte array ('ay') variant. SSIDs arrive this way.
func AsBytes(v dbus.Variant) ([]byte, error) {
	b, ok := v.Value().([]byte)
	if !ok {
		return nil, typeError(v, "[]byte")
	}
	return b, nil
}

// AsObjectPath decodes an object path ('o') variant.
func AsObjectPath(v dbus.Variant) (dbus.ObjectPath, error) {
	p, ok := v.Value().(dbus.ObjectPath)
	if !ok {
		return "", typeError(v, "object path")
	}
	return p, nil
}

// AsObjectPaths decodes an object path array ('ao') variant.
func AsObjectPaths(v dbus.Variant) ([]dbus.ObjectPath, error) {
	ps, ok := v.Value().([]dbus.ObjectPath)
	if !ok {
		return nil, typeError(v, "object path array")
	}
	return ps, nil
}

func typeError(v dbus.Variant, want string) error {
	return fmt.Errorf("wire value %v (%s): want %s", v.Value(), v.Signature().String(), want)
}
