package backend

import (
	"fmt"
	"sync/atomic"
	"testing"
)

// newMockConstructor returns a constructor that records the type it
// was opened as without touching a real database.
func newMockConstructor(t Type) Constructor {
	return func(opts Options) (*Conn, error) {
		return NewConn(nil, t, opts.Path, nil), nil
	}
}

// testTypeCounter generates unique test type names
var testTypeCounter int64

func uniqueTestType(prefix string) Type {
	n := atomic.AddInt64(&testTypeCounter, 1)
	return Type(fmt.Sprintf("%s-%d", prefix, n))
}

func TestRegister(t *testing.T) {
	typeName := uniqueTestType("register-test")

	Register(typeName, newMockConstructor(typeName))

	if !IsRegistered(typeName) {
		t.Error("Expected type to be registered")
	}

	constructor := getConstructor(typeName)
	if constructor == nil {
		t.Fatal("Expected to get constructor for registered type")
	}

	conn, err := constructor(Options{Path: "/tmp/satchel-test.db"})
	if err != nil {
		t.Fatalf("Constructor failed: %v", err)
	}

	if conn.Type != typeName {
		t.Errorf("Expected backend type '%s', got '%s'", typeName, conn.Type)
	}
	if conn.Path() != "/tmp/satchel-test.db" {
		t.Errorf("Expected path to round-trip, got '%s'", conn.Path())
	}
}

func TestRegisterPanicsOnNil(t *testing.T) {
	typeName := uniqueTestType("nil-test")

	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic when registering nil constructor")
		}
	}()

	Register(typeName, nil)
}

func TestRegisterPanicsOnDuplicate(t *testing.T) {
	typeName := uniqueTestType("dup-test")

	Register(typeName, newMockConstructor(typeName))

	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic when registering duplicate type")
		}
	}()

	Register(typeName, newMockConstructor(typeName))
}

func TestIsRegistered(t *testing.T) {
	typeName := uniqueTestType("isreg-test")
	unknownType := uniqueTestType("unknown-test")

	if IsRegistered(typeName) {
		t.Error("Expected type to not be registered initially")
	}

	Register(typeName, newMockConstructor(typeName))

	if !IsRegistered(typeName) {
		t.Error("Expected type to be registered after Register()")
	}

	if IsRegistered(unknownType) {
		t.Error("Expected unknown type to not be registered")
	}
}

func TestRegisteredTypes(t *testing.T) {
	// We can't test for exact counts since other tests may have
	// registered types; just verify registration grows the slice.
	types := RegisteredTypes()
	if types == nil {
		t.Error("Expected non-nil slice from RegisteredTypes()")
	}

	typeName := uniqueTestType("types-test")
	beforeCount := len(types)
	Register(typeName, newMockConstructor(typeName))
	types = RegisteredTypes()
	if len(types) <= beforeCount {
		t.Errorf("Expected type count to increase after registration")
	}
}

func TestGetConstructor(t *testing.T) {
	unknownType := uniqueTestType("getconst-unknown")

	constructor := getConstructor(unknownType)
	if constructor != nil {
		t.Error("Expected nil constructor for unregistered type")
	}

	typeName := uniqueTestType("getconst-test")
	Register(typeName, newMockConstructor(typeName))
	constructor = getConstructor(typeName)
	if constructor == nil {
		t.Error("Expected non-nil constructor for registered type")
	}
}

// TestConcurrentRegistration verifies thread-safety of registration
func TestConcurrentRegistration(t *testing.T) {
	done := make(chan bool)
	basePrefix := uniqueTestType("concurrent")

	for i := 0; i < 10; i++ {
		go func(n int) {
			defer func() { done <- true }()

			typeName := Type(fmt.Sprintf("%s-%d", basePrefix, n))
			Register(typeName, newMockConstructor(typeName))

			_ = IsRegistered(typeName)
			_ = RegisteredTypes()
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	// Just verify we didn't panic - exact count depends on other registered types
}
