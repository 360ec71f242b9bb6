// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Mapping of command and round-trip errors to console lines.
//
// Handlers ALWAYS return errors and never print them. The interpreter loop
// is the single place that turns an error into a message plus an optional
// hint, so no error ever ends the loop.

package cli

import (
	"errors"
	"fmt"

	"github.com/XueChenNyaCl/deepchat/internal/cloud"
	"github.com/XueChenNyaCl/deepchat/internal/config"
	"github.com/XueChenNyaCl/deepchat/internal/session"
	"github.com/XueChenNyaCl/deepchat/internal/storage"
)

// Hints printed under an error line.
const (
	hintUpdateAPI = "输入 /update api 手动更新 API 密钥。"
	hintTimeout   = "可以用 /set timeout_ms <毫秒> 调整超时时间。"
	hintHelp      = "输入 /help 查看可用命令。"
)

// UsageError reports a command invoked with missing or bad arguments.
type UsageError struct {
	Command string
	Usage   string
}

// Error implements the error interface.
func (e *UsageError) Error() string {
	return fmt.Sprintf("usage of %s: %s", e.Command, e.Usage)
}

// describeError maps err to a console message and an optional hint.
func describeError(err error) (msg, hint string) {
	var (
		usageErr   *UsageError
		validErr   *config.ValidationError
		indexErr   *storage.IndexError
		fileErr    *session.FileNotFoundError
		streamErr  *cloud.StreamError
		apiErr     *cloud.APIError
		transErr   *cloud.TransportError
	)

	switch {
	case errors.As(err, &usageErr):
		return "用法：" + usageErr.Usage, ""
	case errors.Is(err, config.ErrUnknownKey):
		return "未知的配置项。", "输入 /config 查看全部配置项。"
	case errors.As(err, &validErr):
		if validErr.Value == "" {
			return fmt.Sprintf("%s 无效：%s", validErr.Field, validErr.Reason), ""
		}
		return fmt.Sprintf("%s 的值 %q 无效：%s", validErr.Field, validErr.Value, validErr.Reason), ""

	case errors.Is(err, cloud.ErrNotConfigured):
		return "尚未配置 API 密钥。", hintUpdateAPI
	case errors.Is(err, cloud.ErrAuthFailed):
		return "API 密钥无效或已过期。", hintUpdateAPI
	case errors.Is(err, cloud.ErrRateLimited):
		return "请求过于频繁，请稍后再试。", ""
	case errors.Is(err, cloud.ErrInsufficientBalance):
		return "账户余额不足。", ""
	case errors.Is(err, cloud.ErrTimeout):
		return "请求超时。", hintTimeout
	case errors.As(err, &streamErr):
		return fmt.Sprintf("响应在传输中断开：%v", streamErr.Err), ""
	case errors.As(err, &apiErr):
		return fmt.Sprintf("服务端返回错误（HTTP %d）：%s", apiErr.Status, apiErr.Message), ""
	case errors.As(err, &transErr):
		return fmt.Sprintf("网络请求失败：%v", transErr.Err), ""

	case errors.Is(err, storage.ErrMalformedSummary):
		return "模型返回的总结缺少标题或主旨，未保存文件。", ""
	case errors.As(err, &indexErr):
		return fmt.Sprintf("序号 %d 超出范围（共 %d 个文件）。", indexErr.Index, indexErr.Count), ""
	case errors.As(err, &fileErr):
		return "文件不存在：" + fileErr.Path, ""
	case errors.Is(err, session.ErrFileTooLarge):
		return "文件过大，上传上限为 1MB。", ""
	case errors.Is(err, session.ErrEmptyHistory):
		return "当前没有对话记录。", ""
	}
	return fmt.Sprintf("出错了：%v", err), ""
}
