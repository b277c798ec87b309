// Package central exposes the central role of the Bluetooth stack as actions
// and effects.
//
// A Client turns imperative calls (connect, scan, discover, read, write,
// notify) into effects that perform the call and emit nothing. Everything
// the stack reports arrives as an Action on the stream returned by
// Client.Delegate:
//
//	client, err := central.NewLive(cfg.Central, nil, logger)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	for action := range client.Delegate().Stream(ctx) {
//	    switch a := action.(type) {
//	    case central.DidUpdateState:
//	        if a.State == bluetooth.ManagerStatePoweredOn {
//	            client.ScanForPeripherals(nil, nil).Execute(ctx, nil)
//	        }
//	    case central.DidDiscover:
//	        fmt.Println(a.Peripheral.DisplayName(), a.RSSI)
//	    }
//	}
//
// Mock and Failing are stand-ins for tests of code built on a Client.
package central
