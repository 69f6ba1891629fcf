// Package phxclient is a client for the Phoenix Channels protocol over a
// single websocket connection. It covers the protocol engine: envelope
// encoding, the sender/receiver split, the heartbeat keepalive and the
// join handshake. Reconnection and per-channel bookkeeping are left to the
// caller.
//
// Basic usage:
//
//	client, inbox, err := phxclient.New(ctx, "ws://localhost:4000/socket", []phxclient.Param{
//		{Key: "token", Value: "abc"},
//	}, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer func() {
//		client.Close()
//		client.Wait()
//	}()
//
//	ref, err := client.Join("room:lobby")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	for {
//		msg, err := inbox.Recv(ctx)
//		if err != nil {
//			...
//		}
//		if n, ok := msg.RefNumber(); ok && n == ref {
//			reply, _ := msg.Reply()
//			fmt.Println("joined:", reply.OK())
//		}
//	}
//
// Send is best-effort: write failures are logged and dropped. Join reports
// write failures. Decode failures arrive in the Inbox as *MessageError values
// and do not end the stream.
package phxclient

// Version of the library
const Version = "1.0.0"
