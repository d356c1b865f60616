// Terminal client for a running session server
// Usage: go run session_cli.go -url=http://localhost:PORT
//
// Plays the browser's side of the session socket so a session can be driven
// end to end from a shell: questions print as they arrive, answers are typed
// on stdin. Answers go to the oldest open question. A line starting with '{'
// is sent verbatim as the answer JSON, which covers the shapes the shorthand
// below does not.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	ws "github.com/ideate/ideate/pkg/websocket"
)

var (
	serverURL = flag.String("url", "", "Session server base URL reported by start_session")
	showRaw   = flag.Bool("raw", false, "Dump incoming frames as JSON")
)

type pendingQuestion struct {
	id           string
	questionType string
	config       map[string]interface{}
}

type questionQueue struct {
	mu    sync.Mutex
	items []pendingQuestion
}

func (q *questionQueue) push(p pendingQuestion) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, p)
}

func (q *questionQueue) pushFront(p pendingQuestion) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]pendingQuestion{p}, q.items...)
}

func (q *questionQueue) pop() (pendingQuestion, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return pendingQuestion{}, false
	}
	p := q.items[0]
	q.items = q.items[1:]
	return p, true
}

func (q *questionQueue) drop(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, p := range q.items {
		if p.id == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

func (q *questionQueue) snapshot() []pendingQuestion {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]pendingQuestion(nil), q.items...)
}

func main() {
	flag.Parse()
	if *serverURL == "" {
		fmt.Println("Usage: go run session_cli.go -url=http://localhost:PORT")
		fmt.Println("Pass the session URL returned by start_session.")
		os.Exit(1)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsEndpoint(*serverURL), nil)
	if err != nil {
		fmt.Printf("Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := writeFrame(conn, ws.NewConnectedFrame()); err != nil {
		fmt.Printf("Failed to announce: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("=== Session CLI attached to %s ===\n", *serverURL)
	fmt.Println("Type an answer and press enter. /list reprints open questions.")

	queue := &questionQueue{}
	done := make(chan struct{})
	go readFrames(conn, queue, done)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
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
			if !ok {
				fmt.Println("stdin closed, detaching")
				return
			}
			handleLine(conn, queue, strings.TrimSpace(line))
		}
	}
}

func readFrames(conn *websocket.Conn, queue *questionQueue, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			fmt.Printf("\nConnection closed: %v\n", err)
			return
		}
		if *showRaw {
			fmt.Printf("<< %s\n", data)
		}
		frame, err := ws.ParseFrame(data)
		if err != nil {
			fmt.Printf("\nBad frame: %v\n", err)
			continue
		}
		switch frame.Type {
		case ws.FrameTypeQuestion:
			queue.push(pendingQuestion{id: frame.ID, questionType: frame.QuestionType, config: frame.Config})
			printQuestion(frame)
		case ws.FrameTypeCancel:
			if queue.drop(frame.ID) {
				fmt.Printf("\n[cancelled] question %s withdrawn\n> ", frame.ID)
			}
		case ws.FrameTypeEnd:
			fmt.Println("\n=== Session ended by the agent ===")
			return
		}
	}
}

func handleLine(conn *websocket.Conn, queue *questionQueue, line string) {
	if line == "" {
		return
	}
	if line == "/list" {
		open := queue.snapshot()
		if len(open) == 0 {
			fmt.Println("No open questions.")
			return
		}
		for _, p := range open {
			fmt.Printf("    %s [%s]\n", p.id, p.questionType)
		}
		return
	}

	q, ok := queue.pop()
	if !ok {
		fmt.Println("No open question to answer.")
		return
	}
	answer, err := shapeAnswer(q.questionType, line)
	if err != nil {
		fmt.Printf("%v\n", err)
		queue.pushFront(q)
		return
	}
	if err := writeFrame(conn, ws.NewResponseFrame(q.id, answer)); err != nil {
		fmt.Printf("Failed to send answer: %v\n", err)
		queue.pushFront(q)
		return
	}
	fmt.Printf("Answered %s [%s]\n", q.id, q.questionType)
}

// shapeAnswer builds the same answer payload the browser renderer for the
// question type would send.
func shapeAnswer(questionType, line string) (map[string]interface{}, error) {
	if strings.HasPrefix(line, "{") {
		var custom map[string]interface{}
		if err := json.Unmarshal([]byte(line), &custom); err != nil {
			return nil, fmt.Errorf("bad answer JSON: %v", err)
		}
		return custom, nil
	}

	switch questionType {
	case "pick_one", "show_options":
		return map[string]interface{}{"selected": line}, nil
	case "pick_many":
		return map[string]interface{}{"selected": splitList(line)}, nil
	case "confirm":
		return map[string]interface{}{"choice": normalizeChoice(line)}, nil
	case "thumbs":
		return map[string]interface{}{"choice": normalizeThumb(line)}, nil
	case "emoji_react":
		return map[string]interface{}{"choice": line}, nil
	case "ask_code":
		return map[string]interface{}{"code": line}, nil
	case "show_plan":
		return map[string]interface{}{"approved": isYes(line)}, nil
	case "show_diff", "review_section":
		return map[string]interface{}{"decision": line}, nil
	case "rank":
		return map[string]interface{}{"ranking": splitList(line)}, nil
	case "rate":
		ratings, err := parseRatings(line)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"ratings": ratings}, nil
	case "slider":
		value, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("slider wants a number, got %q", line)
		}
		return map[string]interface{}{"value": value}, nil
	case "ask_image", "ask_file":
		return map[string]interface{}{"files": splitList(line)}, nil
	default:
		return map[string]interface{}{"text": line}, nil
	}
}

func printQuestion(frame *ws.Frame) {
	config := frame.Config
	title := firstString(config, "question", "title", "prompt")
	if title == "" {
		title = frame.QuestionType
	}
	fmt.Printf("\n[%s] %s\n", frame.QuestionType, title)
	if context, ok := config["context"].(string); ok && context != "" {
		fmt.Printf("    %s\n", context)
	}
	for _, label := range optionLabels(config) {
		fmt.Printf("    - %s\n", label)
	}
	fmt.Printf("    id=%s\n> ", frame.ID)
}

func firstString(config map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s, ok := config[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// optionLabels lists options the way the browser does: a plain string is both
// id and label, an object answers with its id.
func optionLabels(config map[string]interface{}) []string {
	raw, _ := config["options"].([]interface{})
	labels := make([]string, 0, len(raw))
	for i, o := range raw {
		switch v := o.(type) {
		case string:
			labels = append(labels, v)
		case map[string]interface{}:
			id, _ := v["id"].(string)
			if id == "" {
				id = fmt.Sprintf("opt%d", i)
			}
			if label, _ := v["label"].(string); label != "" && label != id {
				labels = append(labels, fmt.Sprintf("%s (%s)", id, label))
			} else {
				labels = append(labels, id)
			}
		}
	}
	return labels
}

func parseRatings(line string) (map[string]interface{}, error) {
	ratings := map[string]interface{}{}
	for _, part := range splitList(line) {
		key, value, found := strings.Cut(part, "=")
		if !found {
			return nil, fmt.Errorf("ratings look like: item=3, other=5")
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("rating for %q is not a number", strings.TrimSpace(key))
		}
		ratings[strings.TrimSpace(key)] = n
	}
	if len(ratings) == 0 {
		return nil, fmt.Errorf("ratings look like: item=3, other=5")
	}
	return ratings, nil
}

func splitList(line string) []string {
	parts := strings.Split(line, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeChoice(line string) string {
	switch strings.ToLower(line) {
	case "y", "yes":
		return "yes"
	case "n", "no":
		return "no"
	default:
		return line
	}
}

func normalizeThumb(line string) string {
	switch strings.ToLower(line) {
	case "u", "up", "+", "+1":
		return "up"
	case "d", "down", "-", "-1":
		return "down"
	default:
		return line
	}
}

func isYes(line string) bool {
	switch strings.ToLower(line) {
	case "y", "yes", "approve", "approved", "ok", "lgtm":
		return true
	default:
		return false
	}
}

func wsEndpoint(base string) string {
	endpoint := strings.TrimSuffix(base, "/")
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = "ws://" + strings.TrimPrefix(endpoint, "http://")
	case !strings.HasPrefix(endpoint, "ws://") && !strings.HasPrefix(endpoint, "wss://"):
		endpoint = "ws://" + endpoint
	}
	return endpoint + "/ws"
}

func writeFrame(conn *websocket.Conn, frame *ws.Frame) error {
	data, err := frame.Encode()
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
