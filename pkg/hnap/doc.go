// Package hnap is a client for the Home Network Administration Protocol used
// by D-Link motion sensors, water sensors and routers.
//
// The Client owns the login handshake, the session secrets it produces and
// the per-request HNAP_AUTH token. It talks to the device through a
// Transport; package soap provides the SOAP-over-HTTP one.
//
// # Connecting to a device
//
//	tr := soap.New("192.168.0.20")
//	c, err := hnap.New(tr, hnap.Credentials{
//	    Address:  "192.168.0.20",
//	    Username: "Admin",
//	    Password: "123456", // PIN printed on the device
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Calling actions
//
// Call logs in on first use, signs every request and, when the device has
// silently expired the session, logs in again and retries the call once:
//
//	resp, err := c.Call(ctx, "GetLatestDetection", hnap.Params{{Name: "ModuleID", Value: "1"}})
//	if err != nil {
//	    var authErr *hnap.AuthenticationError
//	    if errors.As(err, &authErr) {
//	        // wrong PIN; retrying will not help
//	    }
//	    return err
//	}
//	ts, _ := resp.Body.Value("LatestDetectTime")
//
// # Capability probing
//
// DeviceActions lists what the device supports and is cached for the
// session. ModuleActions does the same per module:
//
//	ok, err := c.SupportsModuleAction(ctx, 1, "GetLatestDetection")
//
// A Client serializes its operations; share one per device.
package hnap
