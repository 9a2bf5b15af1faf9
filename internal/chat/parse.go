package chat

import (
	"encoding/json"
	"strings"

	"github.com/organix/organix-go/internal/command"
)

// ExtractCommands pulls scene commands out of fenced ```json blocks embedded
// in assistant reply text. Accepted shapes inside a block: a single command
// object, an array of commands, or {"commands": [...]}. Blocks that do not
// parse are ignored; command extraction must never fail a reply.
func ExtractCommands(content string) []command.Command {
	var out []command.Command
	for _, block := range fencedBlocks(content) {
		out = append(out, decodeBlock(block)...)
	}
	return out
}

func decodeBlock(block string) []command.Command {
	raw := json.RawMessage(block)

	if cmds, err := command.DecodeList(raw); err == nil {
		return cmds
	}

	var wrapper struct {
		Commands json.RawMessage `json:"commands"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil && wrapper.Commands != nil {
		if cmds, err := command.DecodeList(wrapper.Commands); err == nil {
			return cmds
		}
	}

	if cmd, err := command.Decode(raw); err == nil && cmd.Type != "" {
		return []command.Command{cmd}
	}
	return nil
}

// fencedBlocks returns the contents of ``` fences tagged json (or untagged).
func fencedBlocks(content string) []string {
	var blocks []string
	parts := strings.Split(content, "```")
	// Odd-indexed parts are inside fences.
	for i := 1; i < len(parts); i += 2 {
		block := parts[i]
		if rest, ok := strings.CutPrefix(block, "json"); ok {
			block = rest
		}
		block = strings.TrimSpace(block)
		if block != "" {
			blocks = append(blocks, block)
		}
	}
	return blocks
}
