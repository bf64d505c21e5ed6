// Command rover-watch prints the rover's telemetry events as they happen.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-rover/internal/config"
	"github.com/teslashibe/go-rover/pkg/telemetry"
)

func main() {
	host := flag.String("host", config.RoverHost("127.0.0.1"), "Rover host or host:port (or set ROVER_HOST env)")
	since := flag.Uint64("since", 0, "Replay kept events after this sequence number")
	raw := flag.Bool("raw", false, "Print the JSON as received")
	flag.Parse()

	u, err := url.Parse(config.EventsURL(*host))
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(2)
	}
	u.RawQuery = "since=" + strconv.FormatUint(*since, 10)

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ connect %s: %v\n", u, err)
		os.Exit(1)
	}
	defer conn.Close()
	fmt.Printf("📡 watching %s\n", u)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	var last uint64
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				fmt.Fprintf(os.Stderr, "connection closed: %v\n", err)
			}
			return
		}
		if *raw {
			fmt.Println(string(data))
			continue
		}

		var ev telemetry.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			fmt.Fprintf(os.Stderr, "bad event: %v\n", err)
			continue
		}
		// Replay and live stream can overlap by an event.
		if ev.Seq <= last {
			continue
		}
		last = ev.Seq
		fmt.Println(format(ev))
	}
}

func format(ev telemetry.Event) string {
	icon := "•"
	switch ev.Kind {
	case telemetry.KindSafety:
		icon = "🛑"
		if safe, _ := ev.Fields["safe"].(bool); safe {
			icon = "🟢"
		}
	case telemetry.KindCommand:
		icon = "⚙️ "
	case telemetry.KindRequest:
		icon = "📨"
	}
	line := fmt.Sprintf("%s %5d %s %-7s %s", ev.Time.Format("15:04:05.000"), ev.Seq, icon, ev.Kind, ev.Message)
	if d, ok := ev.Fields["distance_cm"]; ok {
		line += fmt.Sprintf(" (%vcm)", d)
	}
	if e, ok := ev.Fields["error"]; ok {
		line += fmt.Sprintf(" error=%v", e)
	}
	return line
}
