package golibbuttplug

import (
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/buttplugio/buttplug-sub000/buttplugtest"
)

func makeWsProto(s string) string {
	return "ws" + strings.TrimPrefix(s, "http")
}

// TestButtplugClient only tests if there are no errors when talking with a
// (fake) buttplug server.
func TestButtplugClient(t *testing.T) {
	s := buttplugtest.DefaultTestServer
	mux := http.NewServeMux()
	mux.Handle("/", s)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	// Contexts can be used to cancel client connection.
	rootctx := context.Background()
	// Create a new session with the server as "ExampleClient".
	c, err := NewClient(rootctx, makeWsProto(ts.URL), "ExampleClient")
	if err != nil {
		t.Fatal(err)
	}
	// Scan for devices.
	if err := c.StartScanning(); err != nil {
		t.Fatal(err)
	}
	// Simulate some events.
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.Conn.SendScanningFinished()
		time.Sleep(10 * time.Millisecond)
		s.Conn.AddDevice(buttplugtest.DefaultAddDeviceMessage)
		time.Sleep(10 * time.Millisecond)
		s.Conn.RemoveDevice(buttplugtest.DefaultAddDeviceMessage.DeviceIndex)
	}()
	// Wait for scanning to finish.
	ctx, cancel := context.WithTimeout(rootctx, 30*time.Second)
	err = c.WaitOnScanning(ctx)
	cancel()
	if err == context.DeadlineExceeded {
		// Stop scanning.
		if err := c.StopScanning(); err != nil {
			t.Fatal(err)
		}
	} else if err != nil {
		t.Fatal(err)
	}
	// Get all known devices.
	log.Printf("devices: %v", c.Devices())
	for _, d := range c.Devices() {
		go HandleDisconnect(d)
		// Test if LinearCmd is supported by the device.
		if d.IsSupported("LinearCmd") {
			log.Printf("%s supports LinearCmd", d.Name())
			if err := d.LinearCmd(0.5, 500); err != nil {
				t.Errorf("LinearCmd failed: %v", err)
			}
		}
		// Test if ScalarCmd is supported by the device.
		if d.IsSupported("ScalarCmd") {
			if err := d.VibrateCmd(0.5); err != nil {
				t.Errorf("VibrateCmd failed: %v", err)
			}
		}
	}
	time.Sleep(200 * time.Millisecond)
	// Stop all devices.
	if err := c.StopAllDevices(); err != nil {
		t.Fatal(err)
	}
	// Close the connection.
	c.Close()
	time.Sleep(100 * time.Millisecond)
}

func HandleDisconnect(d *Device) {
	<-d.Disconnected()
	log.Printf("lost device: %s", d.Name())
}
