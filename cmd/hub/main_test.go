package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mbocsi/iothub/server"
	"github.com/mbocsi/iothub/services"
)

const brokenInventory = `devices:
  - kind: hue_light
    name: Porch
    delay: 1ms
  - kind: smart_speaker
    name: Kitchen
    delay: 1ms
  - kind: toaster
    name: Broken
`

func TestRegisterInventory_FailureDisconnectsRegisteredDevices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.yaml")
	if err := os.WriteFile(path, []byte(brokenInventory), 0o600); err != nil {
		t.Fatal(err)
	}

	coordinator := server.NewCoordinator(server.NewDeviceRegistry(), server.NewBroker())
	svc := services.NewServiceManager(coordinator, nil, services.Options{
		DeviceDelay:      time.Millisecond,
		OperationTimeout: 5 * time.Second,
	}).GetServices()

	err := registerInventory(svc.Device, coordinator, path, 5*time.Second)
	if err == nil {
		t.Fatal("cmd/hub:main_test - expected error for unknown device kind")
	}
	if n := coordinator.Registery.Len(); n != 0 {
		t.Errorf("cmd/hub:main_test - %d devices still registered after failed inventory", n)
	}
}

func TestRegisterInventory_RegistersEveryDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.yaml")
	inv := "devices:\n  - kind: hue_light\n    name: Porch\n    delay: 1ms\n  - kind: smart_speaker\n    delay: 1ms\n"
	if err := os.WriteFile(path, []byte(inv), 0o600); err != nil {
		t.Fatal(err)
	}

	coordinator := server.NewCoordinator(server.NewDeviceRegistry(), server.NewBroker())
	svc := services.NewServiceManager(coordinator, nil, services.Options{
		DeviceDelay:      time.Millisecond,
		OperationTimeout: 5 * time.Second,
	}).GetServices()

	if err := registerInventory(svc.Device, coordinator, path, 5*time.Second); err != nil {
		t.Fatalf("cmd/hub:main_test - %v", err)
	}
	if n := coordinator.Registery.Len(); n != 2 {
		t.Errorf("cmd/hub:main_test - registered %d devices, want 2", n)
	}
	if err := coordinator.Shutdown(context.Background()); err != nil {
		t.Errorf("cmd/hub:main_test - shutdown: %v", err)
	}
}
