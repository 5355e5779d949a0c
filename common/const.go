// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

const (
	// App 应用程序名称
	App = "amqprouter"

	// Version 应用程序版本
	Version = "v0.0.1"

	// BufferSize 链式缓冲区中单个 Buffer 的固定容量
	//
	// 流式消息的内存占用由 fanout 滞后程度决定 而不是消息总大小
	// 取值需要在“链表节点数量”与“单节点拷贝/拼接开销”之间折中
	BufferSize = 4096
)
