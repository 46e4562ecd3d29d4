// Package factory registers named StorageDriver constructors so that a CAS
// store can be configured to use a particular backend by name.
package factory

import (
	"context"
	"fmt"

	storagedriver "github.com/distribution/repro-cas/registry/storage/driver"
)

// driverFactories stores an internal mapping between storage driver names
// and their respective factories.
var driverFactories = make(map[string]StorageDriverFactory)

// StorageDriverFactory is a factory interface for creating
// storagedriver.StorageDriver instances. Storage drivers should call
// Register() with a factory to make the driver available by name.
type StorageDriverFactory interface {
	Create(ctx context.Context, parameters map[string]interface{}) (storagedriver.StorageDriver, error)
}

// Register makes a storage driver available by the provided name. If
// Register is called twice with the same name, or if factory is nil, it
// panics.
func Register(name string, factory StorageDriverFactory) {
	if factory == nil {
		panic("factory: must not provide nil StorageDriverFactory")
	}
	if _, registered := driverFactories[name]; registered {
		panic(fmt.Sprintf("factory: StorageDriverFactory named %s already registered", name))
	}

	driverFactories[name] = factory
}

// Create constructs a new storagedriver.StorageDriver with the given name
// and parameters. The factory must have been registered previously via
// Register.
func Create(ctx context.Context, name string, parameters map[string]interface{}) (storagedriver.StorageDriver, error) {
	driverFactory, ok := driverFactories[name]
	if !ok {
		return nil, InvalidStorageDriverError{Name: name}
	}

	return driverFactory.Create(ctx, parameters)
}

// InvalidStorageDriverError records an attempt to construct an
// unregistered storage driver.
type InvalidStorageDriverError struct {
	Name string
}

func (err InvalidStorageDriverError) Error() string {
	return fmt.Sprintf("factory: StorageDriver not registered: %s", err.Name)
}
