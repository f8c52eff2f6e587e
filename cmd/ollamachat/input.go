package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/chzyer/readline"
)

const replPrompt = "> "

// console 读取 REPL 输入：优先 readline（历史文件、行编辑），创建失败时
// 回退到纯 stdin 扫描。
// console reads REPL input, preferring readline (history file, line editing)
// and falling back to plain stdin scanning when it cannot be created.
type console struct {
	rl      *readline.Instance
	scanner *bufio.Scanner
	out     io.Writer
}

// newConsole 返回可用的 console；err 非空表示已降级为无行编辑输入
// newConsole always returns a usable console; a non-nil err means it
// degraded to plain input without line editing
func newConsole(historyPath string) (*console, error) {
	if historyPath != "" {
		if err := os.MkdirAll(filepath.Dir(historyPath), 0o755); err != nil {
			// 没有历史目录就跑无历史模式 / Run without persistent history
			historyPath = ""
		}
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            replPrompt,
		HistoryFile:       historyPath,
		HistorySearchFold: true,
	})
	if err != nil {
		return &console{scanner: bufio.NewScanner(os.Stdin), out: os.Stdout}, err
	}
	return &console{rl: rl}, nil
}

func (c *console) ReadLine() (string, error) {
	if c.rl != nil {
		return c.rl.Readline()
	}
	if c.out != nil {
		fmt.Fprint(c.out, replPrompt)
	}
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return c.scanner.Text(), nil
}

func (c *console) Close() error {
	if c == nil || c.rl == nil {
		return nil
	}
	return c.rl.Close()
}
