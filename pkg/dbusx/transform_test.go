package dbusx

import (
	"testing"

	"github.com/godbus/dbus/v5"
)

func TestTransforms(t *testing.T) {
	if s, err := AsString(dbus.MakeVariant("wlp3s0")); err != nil || s != "wlp3s0" {
		t.Errorf("AsString = %q, %v", s, err)
	}
	if b, err := AsBool(dbus.MakeVariant(true)); err != nil || !b {
		t.Errorf("AsBool = %v, %v", b, err)
	}
	if y, err := AsByte(dbus.MakeVariant(byte(72))); err != nil || y != 72 {
		t.Errorf("AsByte = %v, %v", y, err)
	}
	if u, err := AsUint32(dbus.MakeVariant(uint32(2))); err != nil || u != 2 {
		t.Errorf("AsUint32 = %v, %v", u, err)
	}
	if x, err := AsInt64(dbus.MakeVariant(int64(-1))); err != nil || x != -1 {
		t.Errorf("AsInt64 = %v, %v", x, err)
	}
	if bs, err := AsBytes(dbus.MakeVariant([]byte("ssid"))); err != nil || string(bs) != "ssid" {
		t.Errorf("AsBytes = %v, %v", bs, err)
	}
	if p, err := AsObjectPath(dbus.MakeVariant(dbus.ObjectPath("/a"))); err != nil || p != "/a" {
		t.Errorf("AsObjectPath = %v, %v", p, err)
	}
	ps, err := AsObjectPaths(dbus.MakeVariant([]dbus.ObjectPath{"/a", "/b"}))
	if err != nil || len(ps) != 2 {
		t.Errorf("AsObjectPaths = %v, %v", ps, err)
	}
}

func TestTransformTypeMismatch(t *testing.T) {
	if _, err := AsString(dbus.MakeVariant(uint32(1))); err == nil {
		t.Error("AsString should reject uint32")
	}
	if _, err := AsByte(dbus.MakeVariant("x")); err == nil {
		t.Error("AsByte should reject string")
	}
	if _, err := AsObjectPaths(dbus.MakeVariant("x")); err == nil {
		t.Error("AsObjectPaths should reject string")
	}
}
