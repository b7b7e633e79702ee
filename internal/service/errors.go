package service

import "github.com/ceyewan/genesis/xerrors"

// 业务错误哨兵，REST 层映射为 HTTP 状态码，网关层映射为 error 事件
var (
	// ErrUnauthorized 令牌缺失、无效或过期
	ErrUnauthorized = xerrors.New("unauthorized")
	// ErrForbidden 已认证但不是目标讨论组/团队的成员
	ErrForbidden = xerrors.New("forbidden")
	// ErrNotFound 讨论组、消息或用户不存在
	ErrNotFound = xerrors.New("not found")
	// ErrInvalidArgument 参数非法，如空内容、未知状态枚举
	ErrInvalidArgument = xerrors.New("invalid argument")
	// ErrInternal 存储层故障
	ErrInternal = xerrors.New("internal error")
)
