package main

import (
	"flag"
	"fmt"
	"net"

	"github.com/Brownie44l1/httpconnector/internal/request"
)

// bodyDump prints the request body as it is parsed.
type bodyDump struct{}

func (bodyDump) ConsumeData(data []byte, state request.ReadState) bool {
	fmt.Print(string(data))
	if state == request.ReadComplete {
		fmt.Println()
	}
	return true
}

func (bodyDump) ConsumeWebSocketMessage(op request.Opcode, data []byte, _ request.ReadState) {
	fmt.Printf("[%s] %s\n", op, data)
}

func (bodyDump) ConsumeWebSocketHandshake(digest []byte, _ request.ReadState) {
	fmt.Printf("[handshake] %x\n", digest)
}

func main() {
	addr := flag.String("addr", ":42069", "listen address")
	flag.Parse()

	listener, err := net.Listen("tcp", *addr)
	if err != nil {
		fmt.Println("Listen error:", err)
		return
	}
	defer listener.Close()
	fmt.Printf("Listening on %s...\n", *addr)

	for {
		conn, err := listener.Accept()
		if err != nil {
			fmt.Println("Accept error:", err)
			continue
		}

		go handleConnection(conn)
	}
}

func handleConnection(conn net.Conn) {
	defer conn.Close()

	req := request.New()
	parser := request.NewParser(1<<20, 1<<16)
	buf := make([]byte, 4096)
	var pending []byte
	headersDone := false

	for {
		if len(pending) == 0 {
			n, err := conn.Read(buf)
			if n == 0 && err != nil {
				fmt.Println("Read error:", err)
				return
			}
			pending = buf[:n]
		}

		if !headersDone {
			res, n := parser.Parse(req, pending)
			pending = pending[n:]
			switch res {
			case request.Bad:
				fmt.Println("Malformed request")
				return
			case request.Indeterminate:
				continue
			}
			if err := parser.Validate(req); err != nil {
				fmt.Println("Invalid request:", err)
				return
			}
			headersDone = true
			printHead(req)
			fmt.Println("Body")
		}

		done, n := parser.ParseBody(req, bodyDump{}, pending)
		pending = pending[n:]
		if done {
			break
		}
	}

	body := "Hello from your HTTP server!\n"
	fmt.Fprintf(conn,
		"HTTP/1.1 200 OK\r\n"+
			"Content-Length: %d\r\n"+
			"Content-Type: text/plain\r\n"+
			"Connection: close\r\n"+
			"\r\n"+
			"%s",
		len(body),
		body,
	)
}

func printHead(req *request.Request) {
	fmt.Println("Request Line")
	fmt.Printf("Method: %s\n", req.Method)
	fmt.Printf("Target: %s\n", req.URI)
	fmt.Printf("Version: %s\n", req.Version())

	fmt.Println("Headers")
	for _, f := range req.Headers.Fields() {
		fmt.Printf("%s: %s\n", f.Name, f.Value)
	}
}
