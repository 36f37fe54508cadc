// Package fixtures 提供测试用的样例文档与词典。
package fixtures

import "strings"

// PaperAbstract 是一段包含框架、模型与数据集名称的论文摘要。
const PaperAbstract = `We fine-tune BERT and RoBERTa with PyTorch on the SQuAD and GLUE
benchmarks. Experiments were run by researchers at Google Research in Mountain View.
Compared with GPT-2, our approach improves exact match on SQuAD by 2.1 points.`

// PaperTitle 是 PaperAbstract 对应的标题。
const PaperTitle = "Efficient Fine-Tuning of Transformer Encoders"

// GazetteerYAML 是实体名到类型的词典，按文件顺序匹配。
const GazetteerYAML = `PyTorch: Framework
TensorFlow: Framework
JAX: Framework
BERT: Model
RoBERTa: Model
GPT-2: Model
SQuAD: Dataset
GLUE: Dataset
ImageNet: Dataset
Google Research: Organization
`

// LongDocument 重复 PaperAbstract 直到至少 n 个字符。
func LongDocument(n int) string {
	var b strings.Builder
	for b.Len() < n {
		b.WriteString(PaperAbstract)
		b.WriteString("\n\n")
	}
	return b.String()
}
