package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
)

const help = `Comandos:
  /to <user_id> <texto>   envia un mensaje
  /typing <user_id>       avisa que estas escribiendo
  /seen <message_id>      marca un mensaje como visto
  /seenall <user_id>      marca como vistos todos los mensajes de un usuario
  /who                    lista los usuarios conectados
  /quit                   sale`

func main() {
	_ = godotenv.Load()

	server := flag.String("server", envOr("CHAT_SERVER_URL", "ws://localhost:8000"), "base url del servidor websocket")
	userID := flag.Int64("user", 0, "id del usuario con el que conectarse")
	token := flag.String("token", os.Getenv("CHAT_TOKEN"), "access token (si el servidor usa JWT)")
	flag.Parse()

	if *userID <= 0 {
		log.Fatal("falta -user")
	}

	target, err := url.Parse(strings.TrimRight(*server, "/") + "/ws/chat/" + strconv.FormatInt(*userID, 10))
	if err != nil {
		log.Fatalf("url invalida: %v", err)
	}
	if *token != "" {
		q := target.Query()
		q.Set("token", *token)
		target.RawQuery = q.Encode()
	}

	ws, _, err := websocket.DefaultDialer.Dial(target.String(), nil)
	if err != nil {
		log.Fatalf("conectar: %v", err)
	}
	defer ws.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				fmt.Printf("conexion cerrada: %v\n", err)
				return
			}
			printEvent(data)
		}
	}()

	fmt.Println(help)
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-done:
			return
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/quit" {
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			frame, err := parseCommand(line)
			if err != nil {
				fmt.Println(err)
				continue
			}
			if frame == nil {
				continue
			}
			if err := ws.WriteJSON(frame); err != nil {
				fmt.Printf("enviar: %v\n", err)
				return
			}
		}
	}
}

func parseCommand(line string) (map[string]any, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, nil
	}
	switch fields[0] {
	case "/to":
		parts := strings.SplitN(strings.TrimSpace(line), " ", 3)
		if len(parts) < 3 || strings.TrimSpace(parts[2]) == "" {
			return nil, fmt.Errorf("uso: /to <user_id> <texto>")
		}
		to, err := parseID(parts[1])
		if err != nil {
			return nil, err
		}
		text := strings.TrimSpace(parts[2])
		return map[string]any{"event": "message", "to": to, "message": text}, nil
	case "/typing":
		if len(fields) != 2 {
			return nil, fmt.Errorf("uso: /typing <user_id>")
		}
		to, err := parseID(fields[1])
		if err != nil {
			return nil, err
		}
		return map[string]any{"event": "typing", "to": to, "is_typing": true}, nil
	case "/seen":
		if len(fields) != 2 {
			return nil, fmt.Errorf("uso: /seen <message_id>")
		}
		id, err := parseID(fields[1])
		if err != nil {
			return nil, err
		}
		return map[string]any{"event": "message_seen", "message_id": id}, nil
	case "/seenall":
		if len(fields) != 2 {
			return nil, fmt.Errorf("uso: /seenall <user_id>")
		}
		from, err := parseID(fields[1])
		if err != nil {
			return nil, err
		}
		return map[string]any{"event": "mark_messages_seen", "from_user_id": from}, nil
	case "/who":
		return map[string]any{"event": "get_connected_users"}, nil
	default:
		return nil, fmt.Errorf("comando desconocido: %s\n%s", fields[0], help)
	}
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("id invalido: %s", raw)
	}
	return id, nil
}

func printEvent(data []byte) {
	var ev map[string]any
	if err := json.Unmarshal(data, &ev); err != nil {
		fmt.Printf("<< %s\n", data)
		return
	}
	switch ev["event"] {
	case "new_message":
		fmt.Printf("[%v] %v: %v\n", ev["message_id"], ev["from"], ev["message"])
	case "typing":
		fmt.Printf("%v esta escribiendo...\n", ev["from"])
	case "error":
		fmt.Printf("error: %v %v\n", ev["message"], ev["errors"])
	default:
		fmt.Printf("<< %s\n", data)
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
