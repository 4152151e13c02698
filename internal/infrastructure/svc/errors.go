package svc

import "errors"

// ErrNoVenuesEnabled 错误：配置里没有启用任何券商
var ErrNoVenuesEnabled = errors.New("no venues enabled")

// ErrNoBrokersConnected 错误：启用的券商全部连接失败
var ErrNoBrokersConnected = errors.New("no brokers connected")
