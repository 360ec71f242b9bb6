// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the interactive deepchat console.
//
// # Key Types
//
//   - Interpreter: the prompt loop and slash command dispatch
//   - LineReader: one line of input per prompt; ChatCLI backs it with liner
//   - Console: styled output, tables, markdown replies and the spinner
//
// # Usage
//
//	reader := cli.NewChatCLI(config.HistoryPath(dir))
//	defer reader.Close()
//	it := cli.NewInterpreter(cli.Options{
//	    Reader:      reader,
//	    Console:     cli.NewConsole(os.Stdout, noColor),
//	    Session:     sess,
//	    Store:       store,
//	    Credentials: client,
//	    EnvPath:     config.EnvPath(dir),
//	})
//	outcome, err := it.Run(ctx)
//
// # Interactive Commands
//
//	/help                 Show available commands
//	/exit                 Exit
//	/save                 Summarize and save the conversation
//	/load                 List saved conversations and load one
//	/del <n>              Delete a saved conversation
//	/r                    Return to the main prompt
//	/m v3|r1              Switch model
//	/config               Show the config
//	/set <key> <value>    Change a config key
//	/reset [all|<key>]    Restore defaults
//	/update api|web       Replace the API key or endpoint
//	/upload <path>        Send a file for analysis
package cli
