// Copyright (c) GraphFlow Authors.
// Licensed under the MIT License.

/*
Package gazetteer 用固定词典在文本中匹配实体名。

词典是 YAML 映射，键为实体名，值为实体类型：

	PyTorch: Framework
	SQuAD: Dataset

匹配按整词、大小写不敏感进行，按文件中的顺序尝试。Extract 只返回
类型在请求列表内的实体；请求列表为空时返回全部命中。
*/
package gazetteer
