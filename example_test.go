package golibbuttplug_test

import (
	"context"
	"log"
	"time"

	golibbuttplug "github.com/buttplugio/buttplug-sub000"
)

// This example demonstrates how to connect to Buttplug server websocket,
// search for devices and perform operations on the discovered devices.
func ExampleClient() {
	// Contexts can be used to cancel client connection.
	rootctx := context.Background()
	// Create a new session with the server as "ExampleClient".
	c, err := golibbuttplug.NewClient(rootctx, "ws://127.0.0.1:12345", "ExampleClient")
	if err != nil {
		log.Fatal(err)
	}
	// Scan for devices.
	if err := c.StartScanning(); err != nil {
		log.Fatal(err)
	}
	// Wait for scanning to finish.
	ctx, cancel := context.WithTimeout(rootctx, 30*time.Second)
	err = c.WaitOnScanning(ctx)
	cancel()
	if err == context.DeadlineExceeded {
		// Stop scanning.
		if err := c.StopScanning(); err != nil {
			log.Fatal(err)
		}
	} else if err != nil {
		log.Fatal(err)
	}
	// Get all known devices.
	for _, d := range c.Devices() {
		// Test if ScalarCmd (vibration) is supported by the device.
		if d.IsSupported("ScalarCmd") {
			log.Printf("%s supports ScalarCmd", d.Name())
			if err := d.VibrateCmd(0.5); err != nil {
				log.Printf("VibrateCmd failed: %v", err)
			}
		}
		// Try sending a linear stroke command.
		if err := d.LinearCmd(0.5, 500); err != nil {
			log.Printf("LinearCmd failed: %v", err)
		}
	}
	// Stop all devices.
	if err := c.StopAllDevices(); err != nil {
		log.Fatal(err)
	}
	// Close the connection.
	c.Close()
}
