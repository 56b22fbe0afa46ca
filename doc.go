// Package watchwire implements the wire protocol spoken between a file watching
// daemon and its clients: PDU detection, framing, encoding and decoding for
// compact JSON, indented JSON and the binary BSER format (versions 1 and 2).
//
// # Overview
//
// Every message on the wire is a PDU holding a single [Value]. A [Buffer] reads
// bytes from a stream, works out which format is arriving from the first two
// bytes, waits until a whole PDU is buffered and decodes it. The same Buffer
// encodes values for the other direction.
//
// Commands are arrays whose first element is the command name. [Command]
// parses, validates and renders them, and [Command.Run] implements the client
// side exchange: send a command and relay the response (or, for subscriptions,
// every response) to an output stream in a possibly different format.
//
// # Features
//
//   - Format detection: BSER v1 (`00 01`), BSER v2 (`00 02`) and JSON otherwise.
//   - Incremental framing over partial reads with geometric buffer growth.
//   - Capability negotiation for BSER v2 ([Capability], [Negotiate]).
//   - Transcoding relay with a zero-copy path when formats match ([Buffer.PassThru]).
//   - Streams over network connections and file descriptors ([ConnStream], [FileStream]).
//   - Pooled clients ([ClientPool]) and a daemon side server ([Server], [StreamServer]).
//
// # Server
//
//	reg, err := watchwire.NewCommandRegistry(
//		watchwire.CommandDefinition{
//			Name: "version",
//			Handler: watchwire.HandlerFunc(func(context.Context, *watchwire.Command, *watchwire.Responder) (watchwire.Value, error) {
//				return watchwire.Object(), nil // "version" is added to every object response
//			}),
//		},
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	server := watchwire.NewServer(reg)
//	if err := server.ListenAndServe(ctx, "unix:///tmp/watchwire.sock"); err != nil && !errors.Is(err, net.ErrClosed) {
//		log.Printf("Server error: %v", err)
//	}
//
// # Client
//
//	stm, err := watchwire.Dial(ctx, "unix:///tmp/watchwire.sock")
//	if err != nil {
//		log.Fatalf("Failed to dial server: %v", err)
//	}
//	defer stm.Close()
//
//	err = watchwire.NewCommand("version").Run(stm, os.Stdout, watchwire.RunConfig{
//		ServerType:         watchwire.BSERv2,
//		ServerCapabilities: watchwire.DefaultCapabilities,
//		OutputType:         watchwire.JSONPretty,
//	})
package watchwire
