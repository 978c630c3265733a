// sample implementation, do not build or test
//go:build ignore

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"winsbygroup.com/hwidserver/pkg/licenseclient"
)

// The public key is shipped with the application (GET /api/v1/public-key
// once, then pin it). Fetching it at runtime would let a spoofed server
// supply its own key.
const serverPublicKey = `-----BEGIN PUBLIC KEY-----
...
-----END PUBLIC KEY-----`

func main() {
	// HWID_PUBLIC_KEY points at a PEM file for builds that keep the key
	// next to the binary.
	pub, err := licenseclient.ParsePublicKey([]byte(serverPublicKey))
	if path := os.Getenv("HWID_PUBLIC_KEY"); path != "" {
		pub, err = licenseclient.LoadPublicKey(path)
	}
	if err != nil {
		log.Fatal(err)
	}

	c := licenseclient.New("https://licenses.example.com/api/v1",
		licenseclient.WithPublicKey(pub),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hwid := DeviceHWID()

	if len(os.Args) > 1 {
		res, err := c.Activate(ctx, hwid, os.Args[1])
		var apiErr *licenseclient.Error
		if errors.As(err, &apiErr) {
			log.Fatalf("activation refused (%d): %s", apiErr.Status, apiErr.Message)
		}
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%s, expires %s\n", res.Message, res.Expiry.Local().Format(time.DateOnly))
	}

	res, err := c.Check(ctx, hwid)
	if err != nil {
		log.Fatal(err)
	}
	if !res.Valid {
		fmt.Println("not licensed:", res.Message)
		os.Exit(1)
	}
	fmt.Printf("licensed, %d days remaining\n", res.DaysRemaining)
}
