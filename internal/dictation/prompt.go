package dictation

import (
	"strconv"
	"strings"

	"github.com/jerryz/poems/internal/poem"
	"github.com/jerryz/poems/pkg/provider/llm"
)

// SystemPrompt casts the model as an exam setter and demands bare JSON.
const SystemPrompt = "你是资深语文教师，擅长命制高考语文诗词默写题。你的任务：基于给定诗词，命制严格、规范、具有区分度的默写题。\n" +
	"仅输出纯JSON，不要任何解释、注释或Markdown。"

// Instruction asks for count questions and lists the answers already used so
// the model can steer away from them.
func Instruction(count int, previous []string) string {
	prev := "无"
	if len(previous) > 0 {
		prev = "已出过的答案：\n" + strings.Join(previous, "\n")
	}

	lines := []string{
		"请根据上述诗词，按高考语文风格生成" + strconv.Itoa(count) + "道规范的默写题。",
		"命题类型包含但不限于：补写下句/上句、根据描述写出句子、补齐名句关键词等；题干不得泄露答案。",
		"JSON 数组中每题包含以下字段：",
		"question：题干（不包含答案，语言明确精炼）；也不需要包含填空的横线。",
		"answer：标准答案，需与原文逐字一致，保留原标点；",
		"explanation：解析（20-40字），解释选择这一句的原因。",
		"若可行，请尽量避开与以下已出过的答案重复的句子或考点：",
		prev,
		"只输出纯JSON数组，不要额外文字。",
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Messages assembles the full conversation for one generation: the system
// prompt, the poem description and the instruction.
func Messages(p poem.Poem, previous []string, count int) []llm.Message {
	return []llm.Message{
		llm.System(SystemPrompt),
		llm.User(p.Describe()),
		llm.User(Instruction(count, previous)),
	}
}
