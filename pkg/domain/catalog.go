package domain

func zeroTemperature() *float64 {
	t := 0.0
	return &t
}

func catalogEntry(key, label, provider, model string, enabled bool) ModelEntry {
	return ModelEntry{
		Key:         key,
		Label:       label,
		Provider:    provider,
		Model:       model,
		Temperature: zeroTemperature(),
		Enabled:     enabled,
	}
}

// DefaultCatalog lists the models known out of the box. Only the OpenAI GPT-4o
// family is enabled until an administrator curates the allowlist.
func DefaultCatalog() []ModelEntry {
	o1mini := catalogEntry("openai_o1_mini", "OpenAI o1-mini", "openai", "o1-mini", false)
	o1mini.Temperature = nil
	o1 := catalogEntry("openai_o1", "OpenAI o1", "openai", "o1", false)
	o1.Temperature = nil

	return []ModelEntry{
		catalogEntry("openai_gpt_4o", "OpenAI GPT-4o", "openai", "gpt-4o", true),
		catalogEntry("openai_gpt_4o_mini", "OpenAI GPT-4o mini", "openai", "gpt-4o-mini", true),
		catalogEntry("openai_gpt_41", "OpenAI GPT-4.1", "openai", "gpt-4.1", false),
		catalogEntry("openai_gpt_41_mini", "OpenAI GPT-4.1 mini", "openai", "gpt-4.1-mini", false),
		o1mini,
		o1,
		catalogEntry("llamacpp-server", "llama.cpp server", "llamacpp", "default", false),
		catalogEntry("ollama_llama32", "Ollama Llama 3.2", "ollama", "llama3.2", false),
		catalogEntry("ollama_gemma3", "Ollama Gemma 3", "ollama", "gemma3", false),
		catalogEntry("ollama_mistral_nemo", "Ollama Mistral Nemo", "ollama", "mistral-nemo", false),
		catalogEntry("google_gemini_15_flash", "Gemini 1.5 Flash", "gemini", "gemini-1.5-flash", false),
		catalogEntry("google_gemini_2_flash", "Gemini 2.0 Flash", "gemini", "gemini-2.0-flash", false),
		catalogEntry("google_gemini_25_pro", "Gemini 2.5 Pro", "gemini", "gemini-2.5-pro-exp-03-25", false),
		catalogEntry("anthropic_haiku_35", "Claude 3.5 Haiku (Bedrock)", "bedrock", "us.anthropic.claude-3-5-haiku-20241022-v1:0", false),
		catalogEntry("anthropic_sonnet_35", "Claude 3.5 Sonnet (Bedrock)", "bedrock", "us.anthropic.claude-3-5-sonnet-20241022-v2:0", false),
		catalogEntry("anthropic_sonnet_37", "Claude 3.7 Sonnet (Bedrock)", "bedrock", "us.anthropic.claude-3-7-sonnet-20250219-v1:0", false),
		catalogEntry("deepseek_r1", "DeepSeek R1", "together", "deepseek-ai/DeepSeek-R1", false),
		catalogEntry("deepseek_v3", "DeepSeek V3", "together", "deepseek-ai/DeepSeek-V3", false),
		catalogEntry("meta_llama_33_70B", "Llama 3.3 70B", "together", "meta-llama/Llama-3.3-70B-Instruct-Turbo", false),
		catalogEntry("meta_llama_31_405B", "Llama 3.1 405B", "together", "meta-llama/Meta-Llama-3.1-405B-Instruct-Turbo", false),
		catalogEntry("meta_llama_4_maverick", "Llama 4 Maverick", "together", "meta-llama/Llama-4-Maverick-17B-128E-Instruct-FP8", false),
		catalogEntry("meta_llama_4_scout", "Llama 4 Scout", "together", "meta-llama/Llama-4-Scout-17B-16E-Instruct", false),
		catalogEntry("together_qwen3-next-80b-a3b", "Qwen3 Next 80B", "together", "Qwen/Qwen3-Next-80B-A3B-Instruct", false),
	}
}
